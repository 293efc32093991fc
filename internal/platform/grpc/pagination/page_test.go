package pagination

import "testing"

func TestLimitsSize(t *testing.T) {
	limits := Limits{Default: 50, Max: 200}
	cases := map[int32]int{0: 50, -3: 50, 10: 10, 200: 200, 5000: 200}
	for requested, want := range cases {
		if got := limits.Size(requested); got != want {
			t.Errorf("Size(%d) = %d, want %d", requested, got, want)
		}
	}
	if got := (Limits{}).Size(0); got != 1 {
		t.Fatalf("zero limits = %d, want 1", got)
	}
}
