package unused

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleReport = `unused . (checking for unused data...) (checking master...)
  Some corrupted files have been preserved by fsck, just in case.
  NUMBER  KEY
  1       SHA256E-s6--aaaa.txt
  Some partially transferred data exists in temporary files:
  NUMBER  KEY
  2       SHA256E-s7--bbbb
  Some annexed data is no longer used by any files:
  NUMBER  KEY
  3       SHA256E-s4--cccc
  4       SHA256E-s5--dddd.bin
  (To see where data was previously used, try: git log --stat -S'KEY')

  To remove unwanted data: git-annex dropunused NUMBER

ok
`

func TestParseReport(t *testing.T) {
	t.Parallel()

	entries := ParseReport(sampleReport)
	require.Len(t, entries, 4)

	assert.Equal(t, Entry{Number: 1, Key: "SHA256E-s6--aaaa.txt", Bad: true}, entries[0])
	assert.Equal(t, Entry{Number: 2, Key: "SHA256E-s7--bbbb", Tmp: true}, entries[1])
	assert.Equal(t, Entry{Number: 3, Key: "SHA256E-s4--cccc"}, entries[2])
	assert.Equal(t, Entry{Number: 4, Key: "SHA256E-s5--dddd.bin"}, entries[3])

	for _, e := range entries {
		assert.False(t, e.HasLog())
	}
}

func TestParseReport_RemoteWording(t *testing.T) {
	t.Parallel()

	report := `unused origin (checking for unused data...)
  Some annexed data on origin is not used by any files:
  NUMBER  KEY
  7       SHA256E-s4--eeee
ok
`
	entries := ParseReport(report)
	require.Len(t, entries, 1)
	assert.Equal(t, 7, entries[0].Number)
	assert.True(t, entries[0].Plain())
}

func TestParseReport_Nothing(t *testing.T) {
	t.Parallel()

	assert.Empty(t, ParseReport("unused . (checking for unused data...) ok\n"))
	assert.Empty(t, ParseReport(""))
}
