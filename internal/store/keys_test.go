package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sha256Digest = "a948904f2f0f479b8f8197694b30184b0d2ed1c1cd2a1ec0fb85d299a192a447"

func TestParseKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		raw        string
		backend    string
		size       int64
		family     string
		checksum   bool
		wantDigest string
	}{
		{
			name:       "extension backend",
			raw:        "SHA256E-s6--" + sha256Digest + ".txt",
			backend:    "SHA256E",
			size:       6,
			family:     "SHA256",
			checksum:   true,
			wantDigest: sha256Digest,
		},
		{
			name:       "plain backend",
			raw:        "SHA256-s6--" + sha256Digest,
			backend:    "SHA256",
			size:       6,
			family:     "SHA256",
			checksum:   true,
			wantDigest: sha256Digest,
		},
		{
			name:       "double extension",
			raw:        "MD5E-s4--d3b07384d113edec49eaa6238ad5ff00.tar.gz",
			backend:    "MD5E",
			size:       4,
			family:     "MD5",
			checksum:   true,
			wantDigest: "d3b07384d113edec49eaa6238ad5ff00",
		},
		{
			name:     "worm",
			raw:      "WORM-s4-m1700000000--foo.txt",
			backend:  "WORM",
			size:     4,
			family:   "WORM",
			checksum: false,
		},
		{
			name:     "url without size",
			raw:      "URL--http&c%%example.com%file",
			backend:  "URL",
			size:     -1,
			family:   "URL",
			checksum: false,
		},
		{
			name:       "chunked blake2",
			raw:        "BLAKE2B256E-s1048576-S524288-C1--abcdef.bin",
			backend:    "BLAKE2B256E",
			size:       1048576,
			family:     "BLAKE2B256",
			checksum:   true,
			wantDigest: "abcdef",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			key, err := ParseKey(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.backend, key.Backend)
			assert.Equal(t, tt.size, key.Size)
			assert.Equal(t, tt.family, key.HashFamily())
			assert.Equal(t, tt.checksum, key.ChecksumAddressed())
			assert.Equal(t, tt.wantDigest, key.Digest())
		})
	}
}

func TestParseKey_Malformed(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "SHA256E-s6", "--abc", "SHA256E-sX--abc", "SHA256E-s6--"} {
		_, err := ParseKey(raw)
		assert.Error(t, err, raw)
	}
}
