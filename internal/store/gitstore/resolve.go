package gitstore

import (
	"bytes"
	"encoding/hex"
	"strings"

	"verso/internal/store"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/hash"
)

// minPrefix is the shortest abbreviated id that is looked up.
const minPrefix = 4

// prefixLister is implemented by go-git's filesystem object storage, which
// can answer prefix queries from its pack indexes.
type prefixLister interface {
	HashesWithPrefix(prefix []byte) ([]plumbing.Hash, error)
}

// resolveID maps a full or abbreviated hex id, in either case, to a hash.
// Abbreviations that match no object or more than one are not found.
func (r *Repo) resolveID(id string) (plumbing.Hash, error) {
	if plumbing.IsHash(id) {
		return plumbing.NewHash(id), nil
	}
	if len(id) < minPrefix || len(id) > hash.HexSize || strings.IndexFunc(id, notHex) >= 0 {
		return plumbing.ZeroHash, store.ErrNotFound
	}

	id = strings.ToLower(id)
	prefix, err := hex.DecodeString(id[:len(id)&^1])
	if err != nil {
		return plumbing.ZeroHash, store.ErrNotFound
	}

	candidates, err := r.hashesWithPrefix(prefix)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	var match plumbing.Hash
	found := 0
	for _, h := range candidates {
		if strings.HasPrefix(h.String(), id) {
			match = h
			found++
		}
	}
	if found != 1 {
		return plumbing.ZeroHash, store.ErrNotFound
	}
	return match, nil
}

func notHex(c rune) bool {
	return !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F')
}

func (r *Repo) hashesWithPrefix(prefix []byte) ([]plumbing.Hash, error) {
	if pl, ok := r.repo.Storer.(prefixLister); ok {
		return pl.HashesWithPrefix(prefix)
	}

	iter, err := r.repo.Storer.IterEncodedObjects(plumbing.AnyObject)
	if err != nil {
		return nil, err
	}

	var hashes []plumbing.Hash
	err = iter.ForEach(func(obj plumbing.EncodedObject) error {
		h := obj.Hash()
		if bytes.HasPrefix(h[:], prefix) {
			hashes = append(hashes, h)
		}
		return nil
	})
	return hashes, err
}
