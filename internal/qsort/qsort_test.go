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

package qsort

import (
	"sort"
	"testing"

	"github.com/valyala/fastrand"
)

func TestMedian(t *testing.T) {
	rng := fastrand.RNG{}
	for i := 1; i < 256; i++ {
		// prepare array of given length with a random permutation of 0..n-1
		arr := make([]uint8, i)
		for j := 0; j < len(arr); j++ {
			arr[j] = uint8(j)
		}
		for j := 0; j < len(arr); j++ {
			k := rng.Uint32n(uint32(len(arr)))
			arr[j], arr[k] = arr[k], arr[j]
		}

		// lower median is the element at index n/2 of the sorted array
		expect := uint8(i / 2)

		res := QSelectMedianUint8(arr)
		if res != expect {
			t.Logf("median(0..%d) got %d expect %d\n", i-1, res, expect)
			t.Fail()
		}
	}
}

func TestSelectWithDuplicates(t *testing.T) {
	rng := fastrand.RNG{}
	for n := 1; n <= 49; n += 2 {
		for iter := 0; iter < 50; iter++ {
			arr := make([]uint8, n)
			for j := range arr {
				arr[j] = uint8(rng.Uint32n(4)) * 85 // few distinct values, many ties
			}
			sorted := append([]uint8(nil), arr...)
			sort.Slice(sorted, func(a, b int) bool { return sorted[a] < sorted[b] })

			for k := 1; k <= n; k++ {
				work := append([]uint8(nil), arr...)
				if got := QSelectUint8(work, k); got != sorted[k-1] {
					t.Fatalf("select(%v, %d)=%d; want %d", arr, k, got, sorted[k-1])
				}
			}
		}
	}
}

func TestSort(t *testing.T) {
	rng := fastrand.RNG{}
	arr := make([]uint8, 1000)
	for j := range arr {
		arr[j] = uint8(rng.Uint32n(256))
	}
	QSortUint8(arr)
	for j := 1; j < len(arr); j++ {
		if arr[j-1] > arr[j] {
			t.Fatalf("arr[%d]=%d > arr[%d]=%d", j-1, arr[j-1], j, arr[j])
		}
	}
}
