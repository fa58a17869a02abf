package common

import (
	"fmt"
	"runtime"
)

// MemoryStats is a snapshot of the runtime allocator.
type MemoryStats struct {
	Alloc         uint64
	TotalAlloc    uint64
	Sys           uint64
	Mallocs       uint64
	HeapInuse     uint64
	NumGC         uint32
	GCCPUFraction float64
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		Alloc:         m.Alloc,
		TotalAlloc:    m.TotalAlloc,
		Sys:           m.Sys,
		Mallocs:       m.Mallocs,
		HeapInuse:     m.HeapInuse,
		NumGC:         m.NumGC,
		GCCPUFraction: m.GCCPUFraction,
	}
}

// String returns a formatted string representation of memory stats.
func (m MemoryStats) String() string {
	return fmt.Sprintf("Alloc: %d KB, Total: %d KB, Sys: %d KB, GC: %d (%.2f%% CPU)",
		m.Alloc/1024,
		m.TotalAlloc/1024,
		m.Sys/1024,
		m.NumGC,
		m.GCCPUFraction*100)
}

// MemoryDelta is the allocator activity between two snapshots.
type MemoryDelta struct {
	Allocated uint64 // bytes allocated, freed or not
	Mallocs   uint64
	GCs       uint32
	PeakHeap  uint64 // larger of the two in-use heaps
}

// Since returns the activity from before to m. Counters are cumulative, so the
// difference never goes negative for snapshots taken in order.
func (m MemoryStats) Since(before MemoryStats) MemoryDelta {
	d := MemoryDelta{PeakHeap: max(m.HeapInuse, before.HeapInuse)}
	if m.TotalAlloc >= before.TotalAlloc {
		d.Allocated = m.TotalAlloc - before.TotalAlloc
	}
	if m.Mallocs >= before.Mallocs {
		d.Mallocs = m.Mallocs - before.Mallocs
	}
	if m.NumGC >= before.NumGC {
		d.GCs = m.NumGC - before.NumGC
	}
	return d
}

func (d MemoryDelta) String() string {
	return fmt.Sprintf("allocated %d KB in %d objects, %d GC, peak heap %d KB",
		d.Allocated/1024, d.Mallocs, d.GCs, d.PeakHeap/1024)
}
