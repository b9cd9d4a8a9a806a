// Package object serves content by id, optionally sliced to a window.
package object

import (
	"context"
	stderrors "errors"
	"fmt"
	"unicode/utf8"

	"verso/internal/errors"
	"verso/internal/query"
	"verso/internal/store"
)

// Bounds is the window actually served, end exclusive.
type Bounds struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

type Result struct {
	ID       string
	Body     []byte
	Length   int64
	Encoding store.Encoding
	Window   Bounds
	Binary   bool
}

// Accessor reads content objects across a repository and its mounts.
type Accessor struct {
	repo store.Repository
}

func New(repo store.Repository) *Accessor {
	return &Accessor{repo: repo}
}

// Read returns the object's content within w. Out-of-range bounds are
// clamped. When nobody is set the body is left empty.
func (a *Accessor) Read(ctx context.Context, id string, w query.Window, nobody bool) (*Result, error) {
	obj, err := store.Resolve(ctx, a.repo, id)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, errors.NotFound("Not Found")
		}
		return nil, errors.Fatal(fmt.Sprintf("reading %s", id), err)
	}
	if obj.Kind != store.KindBlob {
		return nil, errors.NotFound("Not Found")
	}

	res := &Result{
		ID:       obj.ID,
		Length:   store.Length(obj.Data, obj.Binary),
		Encoding: obj.Encoding(),
		Binary:   obj.Binary,
	}

	start, end := int64(0), res.Length
	if w.Start != nil {
		start = *w.Start
	}
	if w.End != nil {
		end = *w.End
	}
	res.Window = clamp(start, end, res.Length)

	if nobody {
		return res, nil
	}
	res.Body = slice(obj.Data, obj.Binary, res.Window)
	return res, nil
}

func clamp(start, end, length int64) Bounds {
	start = min(max(start, 0), length)
	end = min(max(end, 0), length)
	if end < start {
		end = start
	}
	return Bounds{Start: start, End: end}
}

func slice(data []byte, binary bool, b Bounds) []byte {
	if binary {
		return data[b.Start:b.End]
	}
	if b.Start == 0 && b.End == int64(utf8.RuneCount(data)) {
		return data
	}

	var (
		i          int64
		begin, fin = len(data), len(data)
	)
	for off := range string(data) {
		if i == b.Start {
			begin = off
		}
		if i == b.End {
			fin = off
			break
		}
		i++
	}
	return data[begin:fin]
}
