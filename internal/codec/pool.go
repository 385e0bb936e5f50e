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
	"sync"

	"github.com/corey888773/median-filter/internal/partition"
	"github.com/corey888773/median-filter/internal/raster"
)

// Pools of constant sized byte buffers, to reduce allocation overhead when the same
// band sizes are sent and received over and over
var poolByte = struct {
	sync.RWMutex
	m map[int]*sync.Pool
}{m: make(map[int]*sync.Pool)}

// Returns a pool for byte buffers of the given size
func getSizedPoolByte(size int) *sync.Pool {
	poolByte.RLock()
	pool := poolByte.m[size]
	poolByte.RUnlock()
	if pool != nil {
		return pool
	}
	poolByte.Lock()
	defer poolByte.Unlock()
	if pool = poolByte.m[size]; pool == nil {
		pool = &sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		}
		poolByte.m[size] = pool
	}
	return pool
}

// Retrieves a buffer of given size from the pool. Contents are undefined.
func GetBuffer(size int) []byte {
	return getSizedPoolByte(size).Get().([]byte)
}

// Returns a buffer to the pool. The caller must not use it afterwards.
func PutBuffer(buf []byte) {
	getSizedPoolByte(cap(buf)).Put(buf[:cap(buf)])
}

// Encodes the given rows of the image into a pooled buffer. Release with PutBuffer.
func EncodePooled(img *raster.Image, rows partition.RowRange) []byte {
	buf := GetBuffer(Size(img.Width, rows.Len()))
	EncodeInto(buf, img, rows)
	return buf
}
