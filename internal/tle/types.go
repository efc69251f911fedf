// Package tle reads NORAD two-line element sets from files or HTTP sources.
package tle

import (
	"errors"
	"time"
)

// ErrNotFound is returned by Find when no entry carries the requested
// catalog number.
var ErrNotFound = errors.New("tle: satellite not found")

// Entry represents a single satellite's two-line element set.
type Entry struct {
	NORADID int
	Name    string
	Epoch   time.Time
	Line1   string
	Line2   string
}

// Find returns the entry with the given NORAD ID. A zero ID selects the
// first entry, which is what single-satellite files want.
func Find(entries []Entry, noradID int) (Entry, error) {
	if len(entries) == 0 {
		return Entry{}, ErrNotFound
	}
	if noradID == 0 {
		return entries[0], nil
	}
	for _, e := range entries {
		if e.NORADID == noradID {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}
