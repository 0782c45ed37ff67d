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

package integrate

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"sync"
)

// Arrays larger than this many bytes are logged on allocation
const poolLogThreshold = 64 * 1024 * 1024

// Pool of constant sized arrays, to reduce memory allocation overhead between chunks.
// One pool serves one group; Clear returns its memory to the operating system
type Pool struct {
	mu        sync.Mutex
	float32s  map[int][][]float32
	bools     map[int][][]bool
	allocated int64
	logWriter io.Writer
}

// Creates an empty pool. Large allocations are logged to logWriter if non-nil
func NewPool(logWriter io.Writer) *Pool {
	return &Pool{
		float32s:  make(map[int][][]float32),
		bools:     make(map[int][][]bool),
		logWriter: logWriter,
	}
}

// Retrieves an array of given size from the pool, allocating if none is free
func (p *Pool) GetFloat32(size int) []float32 {
	if p == nil {
		return make([]float32, size)
	}
	p.mu.Lock()
	free := p.float32s[size]
	if len(free) > 0 {
		arr := free[len(free)-1]
		p.float32s[size] = free[:len(free)-1]
		p.mu.Unlock()
		return arr
	}
	p.allocated += int64(size) * 4
	p.mu.Unlock()
	p.logAlloc("float32", size, size*4)
	return make([]float32, size)
}

// Returns an array to the pool
func (p *Pool) PutFloat32(arr []float32) {
	if p == nil || arr == nil {
		return
	}
	p.mu.Lock()
	p.float32s[cap(arr)] = append(p.float32s[cap(arr)], arr[:cap(arr)])
	p.mu.Unlock()
}

// Retrieves an array of given size from the pool, allocating if none is free
func (p *Pool) GetBool(size int) []bool {
	if p == nil {
		return make([]bool, size)
	}
	p.mu.Lock()
	free := p.bools[size]
	if len(free) > 0 {
		arr := free[len(free)-1]
		p.bools[size] = free[:len(free)-1]
		p.mu.Unlock()
		return arr
	}
	p.allocated += int64(size)
	p.mu.Unlock()
	p.logAlloc("bool", size, size)
	return make([]bool, size)
}

// Returns an array to the pool
func (p *Pool) PutBool(arr []bool) {
	if p == nil || arr == nil {
		return
	}
	p.mu.Lock()
	p.bools[cap(arr)] = append(p.bools[cap(arr)], arr[:cap(arr)])
	p.mu.Unlock()
}

// Total bytes allocated by the pool since creation or the last clear
func (p *Pool) Allocated() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}

// Clears the pool, triggers garbage collection and returns freed memory to the operating system
func (p *Pool) Clear() {
	p.mu.Lock()
	p.float32s = make(map[int][][]float32)
	p.bools = make(map[int][][]bool)
	p.allocated = 0
	p.mu.Unlock()
	runtime.GC()
	debug.FreeOSMemory()
}

func (p *Pool) logAlloc(kind string, size, bytes int) {
	if p.logWriter == nil || bytes < poolLogThreshold {
		return
	}
	m := runtime.MemStats{}
	runtime.ReadMemStats(&m)
	fmt.Fprintf(p.logWriter, "make []%s %d (%d MiB), alloc %d totalAlloc %d sys %d (all MiB)\n",
		kind, size, bytes/1024/1024, m.Alloc/1024/1024, m.TotalAlloc/1024/1024, m.Sys/1024/1024)
}
