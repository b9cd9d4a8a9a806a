// Package query parses the path grammars of the versions and object routes.
package query

import (
	"strconv"
	"strings"

	"verso/internal/errors"
	"verso/internal/history"
)

// Separator marks a time or index range in a path.
const Separator = "-"

// VersionQuery is a versions lookup: a path and optional inclusive time
// bounds, still unparsed.
type VersionQuery struct {
	Path  string
	Start string
	End   string
}

func segments(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" && s != "." {
			out = append(out, s)
		}
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseVersions splits a trailing range off p. The accepted forms are
// path, path/start/-, path/-/end and path/start/-/end.
func ParseVersions(p string) VersionQuery {
	pp := segments(p)
	q := VersionQuery{Path: strings.Join(pp, "/")}

	if len(pp) <= 2 {
		return q
	}
	tail := pp[len(pp)-3:]
	i := -1
	for j, s := range tail {
		if s == Separator {
			i = j
			break
		}
	}
	if i < 0 {
		return q
	}

	if len(pp) == 3 || i == 2 || !isDigits(tail[0]) {
		q.Path = strings.Join(pp[:len(pp)-2], "/")
		if i == 2 {
			q.Start = tail[1]
		} else {
			q.End = tail[2]
		}
		return q
	}

	q.Start = tail[0]
	q.End = tail[2]
	q.Path = strings.Join(pp[:len(pp)-3], "/")
	return q
}

func parseBound(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errors.BadRequest("Non-Integer Time Index", map[string]string{"bound": s})
	}
	return n, nil
}

// Filter keeps entries with Start <= time <= End. An empty bound is open.
func (q VersionQuery) Filter(entries []history.VersionEntry) ([]history.VersionEntry, error) {
	var (
		start, end       int64
		hasStart, hasEnd bool
		err              error
	)
	if q.Start != "" {
		if start, err = parseBound(q.Start); err != nil {
			return nil, err
		}
		hasStart = true
	}
	if q.End != "" {
		if end, err = parseBound(q.End); err != nil {
			return nil, err
		}
		hasEnd = true
	}
	if !hasStart && !hasEnd {
		return entries, nil
	}

	out := make([]history.VersionEntry, 0, len(entries))
	for _, e := range entries {
		if hasStart && e.Time < start {
			continue
		}
		if hasEnd && e.Time > end {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Window is a requested slice of an object. Nil bounds are open.
type Window struct {
	Start *int64
	End   *int64
}

// ParseWindow parses the segments after an object id: none, start/-,
// -/end or start/-/end, where bounds are unsigned integers. It reports
// false for anything else.
func ParseWindow(segs []string) (Window, bool) {
	var w Window
	switch len(segs) {
	case 0:
		return w, true
	case 2:
		switch {
		case segs[1] == Separator && isDigits(segs[0]):
			w.Start = index(segs[0])
		case segs[0] == Separator && isDigits(segs[1]):
			w.End = index(segs[1])
		default:
			return w, false
		}
		return w, w.Start != nil || w.End != nil
	case 3:
		if segs[1] != Separator || !isDigits(segs[0]) || !isDigits(segs[2]) {
			return w, false
		}
		w.Start, w.End = index(segs[0]), index(segs[2])
		return w, w.Start != nil && w.End != nil
	}
	return w, false
}

func index(s string) *int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

// SplitObject splits "id[/window...]" into the id and its window.
func SplitObject(p string) (string, Window, bool) {
	segs := segments(p)
	if len(segs) == 0 {
		return "", Window{}, false
	}
	w, ok := ParseWindow(segs[1:])
	return segs[0], w, ok
}
