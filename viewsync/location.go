package viewsync

import (
	"fmt"
	"net/url"
	"sync"
)

// Location is the browser address bar and history as the controller sees it.
type Location interface {
	Path() string
	RawQuery() string
	// ReplaceState rewrites the current history entry without navigating.
	ReplaceState(path, rawQuery string)
}

// MemoryLocation is a Location held in memory. It records every rewrite.
type MemoryLocation struct {
	mu       sync.Mutex
	path     string
	rawQuery string
	replaced []string
}

// NewMemoryLocation starts at rawURL; only its path and query are kept.
func NewMemoryLocation(rawURL string) (*MemoryLocation, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse location: %w", err)
	}
	return &MemoryLocation{path: u.Path, rawQuery: u.RawQuery}, nil
}

func (l *MemoryLocation) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

func (l *MemoryLocation) RawQuery() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rawQuery
}

func (l *MemoryLocation) ReplaceState(path, rawQuery string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.path = path
	l.rawQuery = rawQuery
	l.replaced = append(l.replaced, l.stringLocked())
}

// SetQuery changes the query as if the user edited the address bar.
func (l *MemoryLocation) SetQuery(rawQuery string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rawQuery = rawQuery
}

func (l *MemoryLocation) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stringLocked()
}

func (l *MemoryLocation) stringLocked() string {
	if l.rawQuery == "" {
		return l.path
	}
	return l.path + "?" + l.rawQuery
}

// Replaced lists the addresses written by ReplaceState, oldest first.
func (l *MemoryLocation) Replaced() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, len(l.replaced))
	copy(out, l.replaced)
	return out
}
