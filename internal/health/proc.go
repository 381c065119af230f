package health

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// clockTicksPerSecond is the kernel's USER_HZ on every platform we run.
const clockTicksPerSecond = 100

// memoryMB reports the Go heap in megabytes.
func memoryMB() float64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	return float64(stats.Alloc) / (1024 * 1024)
}

// cpuSampler derives a CPU percentage from consecutive /proc/self/stat
// readings. The first sample reports zero.
type cpuSampler struct {
	mu        sync.Mutex
	lastTicks uint64
	lastAt    time.Time
}

// Sample reads process CPU time and returns utilization since the
// previous call. Platforms without procfs report zero.
func (c *cpuSampler) Sample(now time.Time) float64 {
	ticks, ok := processTicks()
	if !ok {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastAt.IsZero() {
		c.lastTicks = ticks
		c.lastAt = now

		return 0
	}

	elapsed := now.Sub(c.lastAt).Seconds()
	if elapsed <= 0 {
		return 0
	}

	used := float64(ticks-c.lastTicks) / clockTicksPerSecond

	c.lastTicks = ticks
	c.lastAt = now

	return used / elapsed * 100
}

// processTicks returns utime+stime from /proc/self/stat.
func processTicks() (uint64, bool) {
	raw, err := os.ReadFile("/proc/self/stat")
	if err != nil {
		return 0, false
	}

	// The comm field is parenthesized and may contain spaces; fields
	// count from after the closing paren. utime and stime are fields 14
	// and 15 of the full line, so 12 and 13 after comm.
	text := string(raw)

	end := strings.LastIndexByte(text, ')')
	if end < 0 {
		return 0, false
	}

	fields := strings.Fields(text[end+1:])
	if len(fields) < 13 {
		return 0, false
	}

	utime, err := strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return 0, false
	}

	stime, err := strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return 0, false
	}

	return utime + stime, true
}
