package migrate

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fclairamb/annexmig/internal/apperrors"
)

const sha256Baz = "bf07a7fbb825fc0aae7bf4a1177b2b31fcf8a3feeaf7092761e18c859ee52a9c"

func TestCopyVerified(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "a", "b", "dst")
	require.NoError(t, os.WriteFile(src, []byte("baz\n"), 0o444))

	require.NoError(t, copyVerified(src, dst))

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "baz\n", string(content))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o200, "copy is writable")

	n, err := LinkCount(dst)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestCopyVerified_RefusesExisting(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0o600))
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0o600))

	require.Error(t, copyVerified(src, dst))

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "old", string(content))
}

func TestLinkObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "object")
	require.NoError(t, os.WriteFile(src, []byte("content"), 0o444))

	object := filepath.Join(dir, "dest", "objects", "Xx", "Yy", "KEY", "KEY")
	linked, err := linkObject(src, object)
	require.NoError(t, err)
	assert.True(t, linked)

	n, err := LinkCount(src)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	linked, err = linkObject(src, object)
	require.NoError(t, err)
	assert.False(t, linked, "an object already present is kept")

	same, err := sameDevice(src, filepath.Dir(object))
	require.NoError(t, err)
	assert.True(t, same)
}

func TestCopySymlink(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink("../elsewhere", src))

	dst := filepath.Join(dir, "out", "link")
	require.NoError(t, copySymlink(src, dst))

	target, err := os.Readlink(dst)
	require.NoError(t, err)
	assert.Equal(t, "../elsewhere", target)
}

func TestCheckCollision(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	require.NoError(t, os.Mkdir(sub, 0o750))

	require.NoError(t, checkCollision(filepath.Join(dir, "absent"), false))
	require.NoError(t, checkCollision(filepath.Join(dir, "absent"), true))
	require.NoError(t, checkCollision(sub, true))

	err := checkCollision(file, false)
	require.ErrorIs(t, err, apperrors.ErrCollision)

	var collision *apperrors.CollisionError
	require.ErrorAs(t, err, &collision)
	assert.Equal(t, file, collision.Path)

	require.ErrorIs(t, checkCollision(file, true), apperrors.ErrCollision)
	require.ErrorIs(t, checkCollision(sub, false), apperrors.ErrCollision)
}

func TestVerifyKeyDigest(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	key := "SHA256E-s4--" + sha256Baz

	require.NoError(t, verifyKeyDigest(logger, key, key, "/dest/baz"))
	require.NoError(t, verifyKeyDigest(logger, key, "SHA256-s4--"+sha256Baz, "/dest/baz"),
		"E and non-E variants share a digest")
	require.NoError(t, verifyKeyDigest(logger, key, "MD5E-s4--258622b1688250cb619f3c9ccaefb7eb", "/dest/baz"),
		"different hash families are not compared")
	require.NoError(t, verifyKeyDigest(logger, "WORM-s4-m1--baz", key, "/dest/baz"))

	err := verifyKeyDigest(logger, key, "SHA256E-s4--"+sha256Digest0, "/dest/baz")
	require.ErrorIs(t, err, apperrors.ErrChecksumMismatch)

	var checksum *apperrors.ChecksumError
	require.ErrorAs(t, err, &checksum)
	assert.Equal(t, "/dest/baz", checksum.Path)
	assert.Equal(t, sha256Baz, checksum.Expected)
	assert.Equal(t, sha256Digest0, checksum.Actual)
}

func TestVerifyKeyDigest_SizeMismatch(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)

	err := verifyKeyDigest(logger, "WORM-s4-m1--baz", "WORM-s5-m1--baz", "/dest/baz")
	require.ErrorIs(t, err, apperrors.ErrChecksumMismatch)

	var checksum *apperrors.ChecksumError
	require.ErrorAs(t, err, &checksum)
	assert.Equal(t, "/dest/baz", checksum.Path)
	assert.Equal(t, "4 bytes", checksum.Expected)
	assert.Equal(t, "5 bytes", checksum.Actual)

	require.ErrorIs(t, verifyKeyDigest(logger, "SHA256E-s4--"+sha256Baz, "SHA256E-s3--"+sha256Baz, "/dest/baz"),
		apperrors.ErrChecksumMismatch)
	require.NoError(t, verifyKeyDigest(logger, "URL--http://example.com/baz", "WORM-s4-m1--baz", "/dest/baz"),
		"keys without a size are not compared")
}

const sha256Digest0 = "0000000000000000000000000000000000000000000000000000000000000000"

func TestDestPath(t *testing.T) {
	t.Parallel()

	got, err := destPath("/data/dest", "/src/repo/foo", "/src/repo/foo/foo2/baz")
	require.NoError(t, err)
	assert.Equal(t, "/data/dest/foo/foo2/baz", got)

	got, err = destPath("/data/dest", "/src/repo/foo", "/src/repo/foo")
	require.NoError(t, err)
	assert.Equal(t, "/data/dest/foo", got)
}
