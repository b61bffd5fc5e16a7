package store

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fclairamb/annexmig/internal/apperrors"
)

// newEchoBatch starts `cat`, which answers every line with the same line.
func newEchoBatch(t *testing.T) *Batch {
	t.Helper()

	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}

	batch, err := NewBatch(context.Background(), t.TempDir(), "cat", nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = batch.Close() })
	return batch
}

func TestBatch_QueryIsOneToOne(t *testing.T) {
	t.Parallel()
	batch := newEchoBatch(t)

	reply, err := batch.Query("foo/bar")
	require.NoError(t, err)
	assert.Equal(t, "foo/bar", reply)

	reply, err = batch.Query("")
	require.NoError(t, err)
	assert.Empty(t, reply)
}

func TestBatch_QueryManyKeepsOrder(t *testing.T) {
	t.Parallel()
	batch := newEchoBatch(t)

	lines := []string{"one", "two", "", "four"}
	replies, err := batch.QueryMany(lines)
	require.NoError(t, err)
	assert.Equal(t, lines, replies)
}

func TestBatch_RejectsMultilineRequest(t *testing.T) {
	t.Parallel()
	batch := newEchoBatch(t)

	_, err := batch.Query("a\nb")
	require.ErrorIs(t, err, apperrors.ErrProtocol)

	// The framing is intact: the next query still gets its own reply.
	reply, err := batch.Query("c")
	require.NoError(t, err)
	assert.Equal(t, "c", reply)
}

func TestBatch_QueryAfterCloseFails(t *testing.T) {
	t.Parallel()
	batch := newEchoBatch(t)

	require.NoError(t, batch.Close())
	require.NoError(t, batch.Close())

	_, err := batch.Query("x")
	require.ErrorIs(t, err, apperrors.ErrProtocol)
}

func TestBatch_RestartRespawns(t *testing.T) {
	t.Parallel()
	batch := newEchoBatch(t)

	require.NoError(t, batch.Close())
	require.NoError(t, batch.Restart(context.Background()))

	reply, err := batch.Query("again")
	require.NoError(t, err)
	assert.Equal(t, "again", reply)
	assert.Equal(t, "cat", batch.Command())
}

func TestBatch_ProcessExitIsProtocolError(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true not available")
	}

	batch, err := NewBatch(context.Background(), t.TempDir(), "true", nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = batch.Close() })

	_, err = batch.Query("anything")
	require.ErrorIs(t, err, apperrors.ErrProtocol)

	var protoErr *apperrors.ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, "true", protoErr.Command)
}

func TestBatch_SpawnFailure(t *testing.T) {
	t.Parallel()

	_, err := NewBatch(context.Background(), t.TempDir(), "/nonexistent/annexmig-batch", []string{"--batch"}, nil)
	require.ErrorIs(t, err, apperrors.ErrSpawn)
}

func TestBatchKind_Args(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"annex", "lookupkey", "--batch"}, BatchLookupKey.args())
	assert.Equal(t, []string{"annex", "contentlocation", "--batch"}, BatchContentLocation.args())
	assert.Equal(t, []string{"annex", "find", "--unlocked", "--batch"}, BatchFindUnlocked.args())
	assert.Nil(t, BatchKind(42).args())
	assert.Equal(t, "contentlocation", BatchContentLocation.String())
}
