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

package codec

import (
	"testing"

	"github.com/corey888773/median-filter/internal/partition"
)

func TestPooledBuffers(t *testing.T) {
	img := randomImage(7, 5)
	rows := partition.RowRange{Start: 1, End: 4}
	for i := 0; i < 3; i++ {
		buf := EncodePooled(img, rows)
		if len(buf) != Size(img.Width, rows.Len()) {
			t.Fatalf("pooled buffer has %d bytes; want %d", len(buf), Size(img.Width, rows.Len()))
		}
		got := Decode(buf, img.Width, rows.Len())
		PutBuffer(buf)
		if !got.Equal(img.Rows(rows.Start, rows.End)) {
			t.Fatalf("iteration %d: pooled round trip differs", i)
		}
	}

	small, large := GetBuffer(3), GetBuffer(300)
	if len(small) != 3 || len(large) != 300 {
		t.Errorf("sizes %d and %d; want 3 and 300", len(small), len(large))
	}
	PutBuffer(small)
	PutBuffer(large)
	if again := GetBuffer(3); len(again) != 3 {
		t.Errorf("size %d after reuse; want 3", len(again))
	}
}
