package access

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tidwall/btree"
)

// ResourceList is a Sink that records the unique set of successfully opened
// files, e.g. to build the file list of a level pack.
type ResourceList struct {
	mu    sync.RWMutex
	paths btree.Set[string]

	// Misses are recorded too when set.
	IncludeMisses bool
}

func NewResourceList() *ResourceList {
	return &ResourceList{}
}

func (rl *ResourceList) ReportFileOpen(handle Handle, fullPath string) {
	if handle == nil && !rl.IncludeMisses {
		return
	}

	rl.Add(fullPath)
}

// Add records a path in its lower-case form.
func (rl *ResourceList) Add(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.paths.Insert(path)
}

// Contains reports whether path was recorded.
func (rl *ResourceList) Contains(path string) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return rl.paths.Contains(strings.ToLower(path))
}

// Len returns the number of unique paths.
func (rl *ResourceList) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return rl.paths.Len()
}

// Paths returns the recorded paths in sorted order.
func (rl *ResourceList) Paths() []string {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return rl.paths.Keys()
}

// Reset drops every recorded path.
func (rl *ResourceList) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.paths.Clear()
}

// WriteTo writes one path per line.
func (rl *ResourceList) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, path := range rl.Paths() {
		n, err := fmt.Fprintln(w, path)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReadFrom merges a list previously written with WriteTo.
func (rl *ResourceList) ReadFrom(r io.Reader) (int64, error) {
	var total int64

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		total += int64(len(line)) + 1
		rl.Add(line)
	}

	return total, scanner.Err()
}
