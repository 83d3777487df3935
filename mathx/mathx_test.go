package mathx

import "testing"

func TestGCD(t *testing.T) {
	cases := []struct {
		a, b, want int
	}{
		{32, 2048, 32},
		{32, 100, 4},
		{32, 1, 1},
		{32, 0, 32},
		{0, 32, 32},
		{32, 33, 1},
	}
	for _, tc := range cases {
		got := GCD(tc.a, tc.b)
		if got != tc.want {
			t.Errorf("GCD(%d, %d) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestCeilDiv(t *testing.T) {
	cases := []struct {
		a, b, want int
	}{
		{2048, 2, 1024},
		{2048, 3, 683},
		{1, 2, 1},
		{0, 4, 0},
		{5, 5, 1},
	}
	for _, tc := range cases {
		got := CeilDiv(tc.a, tc.b)
		if got != tc.want {
			t.Errorf("CeilDiv(%d, %d) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
