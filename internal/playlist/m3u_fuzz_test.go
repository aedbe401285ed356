// SPDX-License-Identifier: MIT
package playlist

import (
	"math"
	"strings"
	"testing"
)

// FuzzEstimateDurations checks that estimates cover the track exactly and
// never exceed the segment length.
func FuzzEstimateDurations(f *testing.F) {
	f.Add(23.0, 10)
	f.Add(0.0, 6)
	f.Add(3600.25, 4)
	f.Add(1e-9, 10)

	f.Fuzz(func(t *testing.T, total float64, seg int) {
		if seg <= 0 || seg > 600 || total > 1e6 {
			return
		}
		ds := EstimateDurations(total, seg)
		if len(ds) == 0 {
			t.Fatal("no entries")
		}
		sum := 0.0
		for _, d := range ds {
			if d <= 0 || d > float64(seg) {
				t.Fatalf("entry %v outside (0,%d]", d, seg)
			}
			sum += d
		}
		if total > 0 && math.Abs(sum-total) > 1e-6*math.Max(1, total) {
			t.Fatalf("sum %v != total %v", sum, total)
		}

		var b strings.Builder
		if err := Build(&b, Options{SegmentSeconds: seg}, []Item{{TrackID: "1", Duration: total}}); err != nil {
			t.Fatal(err)
		}
		if strings.Count(b.String(), "#EXTINF:") != len(ds) {
			t.Fatal("entry count mismatch")
		}
	})
}
