package guest

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPlanBatches(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		fixedOps int
		want     []span
	}{
		{name: "no events", n: 0, fixedOps: sameSessionFixedOps, want: []span{{0, 0}}},
		{name: "exactly one batch", n: 498, fixedOps: sameSessionFixedOps, want: []span{{0, 498}}},
		{name: "one over", n: 499, fixedOps: sameSessionFixedOps, want: []span{{0, 498}, {498, 499}}},
		{name: "six hundred same session", n: 600, fixedOps: sameSessionFixedOps, want: []span{{0, 498}, {498, 600}}},
		{name: "pending capacity", n: 994, fixedOps: pendingFixedOps, want: []span{{0, 497}, {497, 994}}},
		{name: "pending three batches", n: 995, fixedOps: pendingFixedOps, want: []span{{0, 497}, {497, 994}, {994, 995}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := planBatches(tc.n, tc.fixedOps)
			if diff := cmp.Diff(tc.want, got, cmp.AllowUnexported(span{})); diff != "" {
				t.Fatalf("plan mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
