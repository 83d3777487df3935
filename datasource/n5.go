package datasource

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lightsheet/navigate/mathx"
)

// On-disk layout, per the N5 container format used by BigDataViewer:
//
//	<name>.n5/
//	  attributes.json                                {"n5": "2.5.1"}
//	  pos<p>/setup<c>/timepoint<t>/s<level>/
//	    attributes.json                              dimensions, blockSize (XYZ)
//	    <gx>/<gy>/<gz>                               one chunk per grid cell
//
// Chunk payload is the standard N5 raw block: big-endian header
// (mode, ndim, per-axis size) followed by big-endian uint16 voxels with
// x fastest.

const n5Version = "2.5.1"

type containerAttributes struct {
	N5 string `json:"n5"`
}

type datasetAttributes struct {
	Dimensions          []int       `json:"dimensions"`
	BlockSize           []int       `json:"blockSize"`
	DataType            string      `json:"dataType"`
	Compression         compression `json:"compression"`
	DownsamplingFactors []int       `json:"downsamplingFactors"`
}

type compression struct {
	Type string `json:"type"`
}

// n5Container reads and writes chunked uint16 datasets under one root
// directory
type n5Container struct {
	root string
}

func newN5Container(root string) *n5Container {
	return &n5Container{root: root}
}

// init creates the container root and its version attributes
func (n *n5Container) init() error {
	if err := os.MkdirAll(n.root, 0777); err != nil {
		return err
	}
	return writeJSON(filepath.Join(n.root, "attributes.json"),
		containerAttributes{N5: n5Version})
}

func (n *n5Container) datasetDir(c, t, p, level int) string {
	return filepath.Join(n.root,
		fmt.Sprintf("pos%d", p),
		fmt.Sprintf("setup%d", c),
		fmt.Sprintf("timepoint%d", t),
		fmt.Sprintf("s%d", level))
}

// writeVolume persists one complete (z, y, x) volume as an N5 dataset.
// shape is ZYX, block and factors are XYZ.
func (n *n5Container) writeVolume(c, t, p, level int, shape [3]int, block [3]int, factors [3]int, data []uint16) error {
	dir := n.datasetDir(c, t, p, level)
	if err := os.MkdirAll(dir, 0777); err != nil {
		return err
	}
	attrs := datasetAttributes{
		Dimensions:          []int{shape[2], shape[1], shape[0]},
		BlockSize:           []int{block[0], block[1], block[2]},
		DataType:            "uint16",
		Compression:         compression{Type: "raw"},
		DownsamplingFactors: []int{factors[0], factors[1], factors[2]},
	}
	if err := writeJSON(filepath.Join(dir, "attributes.json"), attrs); err != nil {
		return err
	}

	zs, ys, xs := shape[0], shape[1], shape[2]
	bx, by, bz := block[0], block[1], block[2]
	for gz := 0; gz < mathx.CeilDiv(zs, bz); gz++ {
		for gy := 0; gy < mathx.CeilDiv(ys, by); gy++ {
			for gx := 0; gx < mathx.CeilDiv(xs, bx); gx++ {
				cz := mathx.Min(bz, zs-gz*bz)
				cy := mathx.Min(by, ys-gy*by)
				cx := mathx.Min(bx, xs-gx*bx)
				chunk := make([]uint16, cz*cy*cx)
				for z := 0; z < cz; z++ {
					for y := 0; y < cy; y++ {
						srcRow := ((gz*bz+z)*ys+(gy*by+y))*xs + gx*bx
						dstRow := (z*cy + y) * cx
						copy(chunk[dstRow:dstRow+cx], data[srcRow:srcRow+cx])
					}
				}
				err := n.writeChunk(dir, gx, gy, gz, [3]int{cx, cy, cz}, chunk)
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// writeChunk writes one N5 raw block.  size is XYZ; data is x fastest.
func (n *n5Container) writeChunk(dir string, gx, gy, gz int, size [3]int, data []uint16) error {
	if err := os.MkdirAll(filepath.Join(dir, fmt.Sprint(gx), fmt.Sprint(gy)), 0777); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dir, fmt.Sprint(gx), fmt.Sprint(gy), fmt.Sprint(gz)))
	if err != nil {
		return err
	}
	defer f.Close()

	hdr := make([]byte, 4+4*3)
	binary.BigEndian.PutUint16(hdr[0:], 0) // mode: default block
	binary.BigEndian.PutUint16(hdr[2:], 3)
	for i, s := range size {
		binary.BigEndian.PutUint32(hdr[4+4*i:], uint32(s))
	}
	if _, err := f.Write(hdr); err != nil {
		return err
	}
	buf := make([]byte, 2*len(data))
	for i, v := range data {
		binary.BigEndian.PutUint16(buf[2*i:], v)
	}
	_, err = f.Write(buf)
	return err
}

// readVolume loads one dataset back into a dense (z, y, x) array
func (n *n5Container) readVolume(c, t, p, level int) ([3]int, []uint16, error) {
	dir := n.datasetDir(c, t, p, level)
	var attrs datasetAttributes
	if err := readJSON(filepath.Join(dir, "attributes.json"), &attrs); err != nil {
		return [3]int{}, nil, err
	}
	xs, ys, zs := attrs.Dimensions[0], attrs.Dimensions[1], attrs.Dimensions[2]
	bx, by, bz := attrs.BlockSize[0], attrs.BlockSize[1], attrs.BlockSize[2]
	out := make([]uint16, zs*ys*xs)
	for gz := 0; gz < mathx.CeilDiv(zs, bz); gz++ {
		for gy := 0; gy < mathx.CeilDiv(ys, by); gy++ {
			for gx := 0; gx < mathx.CeilDiv(xs, bx); gx++ {
				size, chunk, err := n.readChunk(dir, gx, gy, gz)
				if err != nil {
					return [3]int{}, nil, err
				}
				cx, cy, cz := size[0], size[1], size[2]
				for z := 0; z < cz; z++ {
					for y := 0; y < cy; y++ {
						srcRow := (z*cy + y) * cx
						dstRow := ((gz*bz+z)*ys+(gy*by+y))*xs + gx*bx
						copy(out[dstRow:dstRow+cx], chunk[srcRow:srcRow+cx])
					}
				}
			}
		}
	}
	return [3]int{zs, ys, xs}, out, nil
}

func (n *n5Container) readChunk(dir string, gx, gy, gz int) ([3]int, []uint16, error) {
	raw, err := os.ReadFile(filepath.Join(dir, fmt.Sprint(gx), fmt.Sprint(gy), fmt.Sprint(gz)))
	if err != nil {
		return [3]int{}, nil, err
	}
	if len(raw) < 16 {
		return [3]int{}, nil, fmt.Errorf("chunk %d/%d/%d truncated: %d bytes", gx, gy, gz, len(raw))
	}
	if nd := binary.BigEndian.Uint16(raw[2:]); nd != 3 {
		return [3]int{}, nil, fmt.Errorf("chunk %d/%d/%d is %d-dimensional, want 3", gx, gy, gz, nd)
	}
	var size [3]int
	for i := range size {
		size[i] = int(binary.BigEndian.Uint32(raw[4+4*i:]))
	}
	nvox := size[0] * size[1] * size[2]
	body := raw[16:]
	if len(body) < 2*nvox {
		return [3]int{}, nil, fmt.Errorf("chunk %d/%d/%d payload short: %d of %d bytes", gx, gy, gz, len(body), 2*nvox)
	}
	data := make([]uint16, nvox)
	for i := range data {
		data[i] = binary.BigEndian.Uint16(body[2*i:])
	}
	return size, data, nil
}

func writeJSON(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readJSON(path string, v interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
