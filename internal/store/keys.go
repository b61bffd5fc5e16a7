package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Key is a parsed git-annex key: BACKEND[-sSIZE][-mMTIME][-SCHUNK-CNUM]--NAME.
type Key struct {
	Backend string
	Size    int64 // -1 when the key carries no size field
	Name    string
}

// ParseKey parses a git-annex key.
func ParseKey(raw string) (Key, error) {
	fields, name, found := strings.Cut(raw, "--")
	if !found || fields == "" || name == "" {
		return Key{}, fmt.Errorf("malformed key %q", raw)
	}

	parts := strings.Split(fields, "-")
	key := Key{Backend: parts[0], Size: -1, Name: name}
	if key.Backend == "" {
		return Key{}, fmt.Errorf("malformed key %q: empty backend", raw)
	}

	for _, field := range parts[1:] {
		if strings.HasPrefix(field, "s") {
			size, err := strconv.ParseInt(field[1:], 10, 64)
			if err != nil {
				return Key{}, fmt.Errorf("malformed key %q: size: %w", raw, err)
			}
			key.Size = size
		}
	}
	return key, nil
}

// HashFamily returns the backend without its extension-preserving "E" suffix.
func (k Key) HashFamily() string {
	if strings.HasSuffix(k.Backend, "E") && k.checksumBackend(strings.TrimSuffix(k.Backend, "E")) {
		return strings.TrimSuffix(k.Backend, "E")
	}
	return k.Backend
}

// ChecksumAddressed reports whether the key name encodes a digest of the content.
func (k Key) ChecksumAddressed() bool {
	return k.checksumBackend(k.HashFamily())
}

func (k Key) checksumBackend(family string) bool {
	switch {
	case family == "MD5":
		return true
	case strings.HasPrefix(family, "SHA"), strings.HasPrefix(family, "SKEIN"), strings.HasPrefix(family, "BLAKE2"):
		return true
	default:
		return false
	}
}

// Digest returns the content digest encoded in the key, or "" if the backend has none.
// Extension backends append ".ext" to the digest; it is stripped.
func (k Key) Digest() string {
	if !k.ChecksumAddressed() {
		return ""
	}
	if k.HashFamily() != k.Backend {
		digest, _, _ := strings.Cut(k.Name, ".")
		return digest
	}
	return k.Name
}
