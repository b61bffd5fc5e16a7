package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `commit 5d1b2c3a4f5e6d7c8b9a0f1e2d3c4b5a69788796
Author: Jane Doe <jane@example.com>
Date:   Mon Oct 19 10:00:00 2026 +0200

    Migrated foo to /data/dest [annexmig:migrate]

 foo/foo2/baz | 1 -
 1 file changed, 1 deletion(-)

commit 0a1b2c3d4e5f60718293a4b5c6d7e8f901234567
Author: Jane Doe <jane@example.com>
Date:   Sun Oct 18 09:00:00 2026 +0200

    add baz

    second paragraph

 foo/foo2/baz | 1 +
 1 file changed, 1 insertion(+)
`

func TestParseLog(t *testing.T) {
	t.Parallel()

	commits := ParseLog(sampleLog)
	require.Len(t, commits, 2)

	assert.Equal(t, "5d1b2c3a4f5e6d7c8b9a0f1e2d3c4b5a69788796", commits[0].Hash)
	assert.Equal(t, "Migrated foo to /data/dest [annexmig:migrate]", commits[0].Message)
	assert.Equal(t, "add baz\n\nsecond paragraph", commits[1].Message)

	// Flattening the commits gives back git's output line for line.
	var lines []string
	for _, c := range commits {
		lines = append(lines, c.Lines...)
	}
	assert.Equal(t, strings.Split(strings.TrimRight(sampleLog, "\n"), "\n"), lines)
}

func TestParseLog_Empty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, ParseLog(""))
	assert.Empty(t, ParseLog("\n"))
}
