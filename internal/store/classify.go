package store

import (
	"bytes"
	"unicode/utf8"

	"github.com/go-git/go-git/v5/utils/binary"
)

// IsBinary reports whether data should be indexed by bytes rather than
// decoded characters. Content git considers binary, and content that does
// not decode as UTF-8, are both binary.
func IsBinary(data []byte) bool {
	bin, err := binary.IsBinary(bytes.NewReader(data))
	if err != nil || bin {
		return true
	}
	return !utf8.Valid(data)
}

// Length returns the length of data in the unit implied by its encoding.
func Length(data []byte, bin bool) int64 {
	if bin {
		return int64(len(data))
	}
	return int64(utf8.RuneCount(data))
}
