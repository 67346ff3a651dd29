// Package backend models the ordered set of backing directory trees and the
// OS calls hareadfs issues against them.
package backend

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultDelimiter separates backend roots on the command line.
const DefaultDelimiter = ","

// Backend is one backing directory tree. Index 0 has the highest priority.
type Backend struct {
	Root  string `json:"root"`
	Index int    `json:"index"`
}

func (b Backend) String() string {
	return b.Root
}

// Set is the ordered, immutable list of backends.
type Set struct {
	backends []Backend
}

// NewSet builds a Set from roots in priority order. Roots must be absolute and unique.
func NewSet(roots []string) (*Set, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("at least one backend root is required")
	}

	seen := make(map[string]struct{}, len(roots))
	backends := make([]Backend, 0, len(roots))
	for _, root := range roots {
		if !filepath.IsAbs(root) {
			return nil, fmt.Errorf("backend root %q is not an absolute path", root)
		}
		cleaned := filepath.Clean(root)
		if _, dup := seen[cleaned]; dup {
			return nil, fmt.Errorf("backend root %q listed more than once", cleaned)
		}
		seen[cleaned] = struct{}{}
		backends = append(backends, Backend{Root: cleaned, Index: len(backends)})
	}
	return &Set{backends: backends}, nil
}

// ParseSet splits a delimiter-separated list of roots. Whitespace around items is
// trimmed and empty items are dropped.
func ParseSet(list, delimiter string) (*Set, error) {
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	return NewSet(SplitRoots(list, delimiter))
}

// SplitRoots splits list on delimiter, trimming whitespace and dropping empty items.
func SplitRoots(list, delimiter string) []string {
	var roots []string
	for _, item := range strings.Split(list, delimiter) {
		if item = strings.TrimSpace(item); item != "" {
			roots = append(roots, item)
		}
	}
	return roots
}

// Backends returns the backends in priority order. The returned slice must not be modified.
func (s *Set) Backends() []Backend {
	return s.backends
}

// Len returns the number of backends.
func (s *Set) Len() int {
	return len(s.backends)
}

// Roots returns the backend roots in priority order.
func (s *Set) Roots() []string {
	roots := make([]string, len(s.backends))
	for i, b := range s.backends {
		roots[i] = b.Root
	}
	return roots
}

// Translate returns the backend-rooted path for a logical path: the root with one
// trailing separator removed, followed by the logical path.
func Translate(b Backend, logical string) string {
	root := strings.TrimSuffix(b.Root, "/")
	if logical == "" {
		logical = "/"
	}
	if !strings.HasPrefix(logical, "/") {
		logical = "/" + logical
	}
	if root == "" {
		return logical
	}
	if logical == "/" {
		return root
	}
	return root + logical
}
