package datasource

import (
	"fmt"

	"github.com/lightsheet/navigate/mathx"
)

// Selection grammar for Dataset.Slice.  A query takes one to seven
// components in (x, y, c, z, t, p, level) order; trailing components may
// be omitted, or covered all at once with Rest.
//
//	ds.Slice(All, All, At(0), All, At(0), At(0))
//
// reads the full (z, y, x) volume of channel 0, timepoint 0, position 0.

// Sel is one component of a slice query
type Sel interface {
	isSel()
}

type selAll struct{}
type selRest struct{}

type selAt struct{ i int }

type selSpan struct{ start, stop int }

type selList struct{ is []int }

func (selAll) isSel()  {}
func (selRest) isSel() {}
func (selAt) isSel()   {}
func (selSpan) isSel() {}
func (selList) isSel() {}

// All selects the full extent of an axis
var All Sel = selAll{}

// Rest stands for every remaining axis, selected in full.  It may only
// appear as the final component.
var Rest Sel = selRest{}

// At selects a single index
func At(i int) Sel { return selAt{i} }

// Span selects the half-open range [start, stop)
func Span(start, stop int) Sel { return selSpan{start, stop} }

// List selects an explicit set of indices; only meaningful on the c, t,
// and p axes.
func List(is ...int) Sel { return selList{is} }

// IndexCountError reports a slice query with fewer than one or more than
// seven components
type IndexCountError struct {
	Count int
}

func (e IndexCountError) Error() string {
	return fmt.Sprintf("slice queries take 1 to 7 components, got %d", e.Count)
}

// span resolves a Sel to a half-open [start, stop) range over an axis of
// the given extent.  List is rejected here; spatial axes are contiguous.
func span(s Sel, extent int, axis string) (int, int, error) {
	switch v := s.(type) {
	case selAll, selRest:
		return 0, extent, nil
	case selAt:
		if v.i < 0 || v.i >= extent {
			return 0, 0, fmt.Errorf("%s index %d out of range [0, %d)", axis, v.i, extent)
		}
		return v.i, v.i + 1, nil
	case selSpan:
		start := mathx.Max(0, v.start)
		stop := mathx.Min(extent, v.stop)
		if start >= stop {
			return 0, 0, fmt.Errorf("%s span [%d, %d) is empty over extent %d", axis, v.start, v.stop, extent)
		}
		return start, stop, nil
	case selList:
		return 0, 0, fmt.Errorf("%s axis does not accept index lists", axis)
	}
	return 0, 0, fmt.Errorf("%s: unrecognized selection %T", axis, s)
}

// indices resolves a Sel to an explicit index list over an axis of the
// given extent; used for the c, t, and p axes.
func indices(s Sel, extent int, axis string) ([]int, error) {
	switch v := s.(type) {
	case selAll, selRest:
		out := make([]int, extent)
		for i := range out {
			out[i] = i
		}
		return out, nil
	case selAt:
		if v.i < 0 || v.i >= extent {
			return nil, fmt.Errorf("%s index %d out of range [0, %d)", axis, v.i, extent)
		}
		return []int{v.i}, nil
	case selSpan:
		start, stop, err := span(v, extent, axis)
		if err != nil {
			return nil, err
		}
		out := make([]int, 0, stop-start)
		for i := start; i < stop; i++ {
			out = append(out, i)
		}
		return out, nil
	case selList:
		for _, i := range v.is {
			if i < 0 || i >= extent {
				return nil, fmt.Errorf("%s index %d out of range [0, %d)", axis, i, extent)
			}
		}
		return v.is, nil
	}
	return nil, fmt.Errorf("%s: unrecognized selection %T", axis, s)
}

// level resolves the optional seventh component to a pyramid level
func level(s Sel, depth int) (int, error) {
	switch v := s.(type) {
	case selAll, selRest:
		return 0, nil
	case selAt:
		if v.i < 0 || v.i >= depth {
			return 0, fmt.Errorf("pyramid level %d out of range [0, %d)", v.i, depth)
		}
		return v.i, nil
	}
	return 0, fmt.Errorf("pyramid level selection must be At or All, got %T", s)
}

// normalize expands a 1-7 component query to exactly seven components,
// stripping a trailing Rest and padding with All.
func normalize(sels []Sel) ([7]Sel, error) {
	var out [7]Sel
	if len(sels) < 1 || len(sels) > 7 {
		return out, IndexCountError{Count: len(sels)}
	}
	for i, s := range sels {
		if _, ok := s.(selRest); ok && i != len(sels)-1 {
			return out, fmt.Errorf("Rest may only be the final component")
		}
	}
	if _, ok := sels[len(sels)-1].(selRest); ok {
		sels = sels[:len(sels)-1]
	}
	for i := range out {
		if i < len(sels) {
			out[i] = sels[i]
		} else {
			out[i] = All
		}
	}
	return out, nil
}

// Block is a dense slab of voxels returned by Slice.  Shape is either
// three axes (z, y, x) when the query pins single c, t, and p indices,
// or six axes (p, t, z, c, y, x) otherwise.
type Block struct {
	Shape []int
	Data  []uint16
}

// At reads one voxel by multi-dimensional index
func (b *Block) At(idx ...int) uint16 {
	if len(idx) != len(b.Shape) {
		panic(fmt.Sprintf("block is %d-dimensional, indexed with %d components", len(b.Shape), len(idx)))
	}
	flat := 0
	for i, ix := range idx {
		if ix < 0 || ix >= b.Shape[i] {
			panic(fmt.Sprintf("index %d out of range [0, %d) on axis %d", ix, b.Shape[i], i))
		}
		flat = flat*b.Shape[i] + ix
	}
	return b.Data[flat]
}
