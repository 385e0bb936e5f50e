// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package partition

import (
	"testing"
)

func TestOwnedRangesCoverEachRowOnce(t *testing.T) {
	for height := int32(1); height <= 64; height++ {
		for workers := 1; workers <= 20; workers++ {
			counts := make([]int, height)
			for _, a := range Partition(height, workers, 2) {
				for y := a.Owned.Start; y < a.Owned.End; y++ {
					counts[y]++
				}
			}
			for y, c := range counts {
				if c != 1 {
					t.Fatalf("height=%d workers=%d: row %d owned %d times", height, workers, y, c)
				}
			}
		}
	}
}

func TestOwnedRangesAreOrderedAndContiguous(t *testing.T) {
	as := Partition(10, 3, 1)
	want := []RowRange{{0, 4}, {4, 8}, {8, 10}}
	for i, a := range as {
		if a.Worker != i {
			t.Errorf("as[%d].Worker=%d", i, a.Worker)
		}
		if a.Owned != want[i] {
			t.Errorf("worker %d owns %v; want %v", i, a.Owned, want[i])
		}
	}
}

func TestGhostSufficiency(t *testing.T) {
	for height := int32(1); height <= 40; height++ {
		for workers := 1; workers <= 12; workers++ {
			for _, half := range []int32{1, 2} {
				for _, a := range Partition(height, workers, half) {
					if a.Owned.Empty() {
						continue
					}
					if a.Ghost.Start > a.Owned.Start || a.Ghost.End < a.Owned.End {
						t.Fatalf("%v: ghost does not contain owned", a)
					}
					if a.Ghost.Start < 0 || a.Ghost.End > height {
						t.Fatalf("%v: ghost outside [0,%d)", a, height)
					}
					// every row a window needs is in the ghost rows, or beyond the true image edge
					for y := a.Owned.Start; y < a.Owned.End; y++ {
						for dy := -half; dy <= half; dy++ {
							r := y + dy
							if r >= 0 && r < height && !a.Ghost.Contains(r) {
								t.Fatalf("height=%d %v: row %d needs row %d", height, a, y, r)
							}
						}
					}
				}
			}
		}
	}
}

func TestEmptyAssignments(t *testing.T) {
	// ceil(4/3)=2 rows per band, worker 2 starts at row 4
	as := Partition(4, 3, 1)
	if !as[2].Owned.Empty() || !as[2].Ghost.Empty() {
		t.Errorf("worker 2: %v; want empty", as[2])
	}
	if as[2].Owned.Len() != 0 {
		t.Errorf("empty range has length %d", as[2].Owned.Len())
	}
	// more workers than rows
	as = Partition(3, 7, 2)
	nonEmpty := 0
	for _, a := range as {
		if !a.Owned.Empty() {
			nonEmpty++
		}
	}
	if nonEmpty != 3 {
		t.Errorf("%d non-empty assignments; want 3", nonEmpty)
	}
}

func TestGhostClamping(t *testing.T) {
	as := Partition(10, 2, 2)
	if as[0].Ghost != (RowRange{0, 7}) {
		t.Errorf("worker 0 ghost %v; want [0,7)", as[0].Ghost)
	}
	if as[1].Ghost != (RowRange{3, 10}) {
		t.Errorf("worker 1 ghost %v; want [3,10)", as[1].Ghost)
	}
	if lo := as[1].LocalOwned(); lo != (RowRange{2, 7}) {
		t.Errorf("worker 1 local owned %v; want [2,7)", lo)
	}
}

func TestForMatchesPartition(t *testing.T) {
	as := Partition(37, 5, 2)
	for w := range as {
		if got := For(37, 5, 2, w); got != as[w] {
			t.Errorf("For(..., %d)=%v; want %v", w, got, as[w])
		}
	}
}
