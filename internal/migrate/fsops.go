package migrate

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sys/unix"

	"github.com/fclairamb/annexmig/internal/apperrors"
	"github.com/fclairamb/annexmig/internal/store"
)

const (
	dirPerm       = 0o755
	ownerWritable = 0o200
)

// deviceID returns the filesystem device identifier of path, following symlinks.
func deviceID(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return uint64(st.Dev), nil //nolint:unconvert // Dev is not uint64 on every platform
}

// sameDevice reports whether a and b live on the same filesystem device.
// Some overlay filesystems report different ids for files and directories of one volume;
// such pairs are treated as different devices.
func sameDevice(a, b string) (bool, error) {
	devA, err := deviceID(a)
	if err != nil {
		return false, err
	}
	devB, err := deviceID(b)
	if err != nil {
		return false, err
	}
	return devA == devB, nil
}

// LinkCount returns the number of hard links to path, following symlinks.
func LinkCount(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return uint64(st.Nlink), nil //nolint:unconvert // Nlink width varies by platform
}

// fileDigest returns the hex blake2b-256 digest of the file at path.
func fileDigest(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // paths come from the walked tree
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("blake2b: %w", err)
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// copyVerified copies src to a new file dst, then digests both and fails with a
// ChecksumError naming dst if they differ. dst must not exist.
func copyVerified(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // paths come from the walked tree
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return fmt.Errorf("create parent of %s: %w", dst, err)
	}

	// Annexed objects are read-only; the copy must stay writable for the destination store.
	perm := info.Mode().Perm() | ownerWritable
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm) //nolint:gosec // see above
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return fmt.Errorf("sync %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}

	expected, err := fileDigest(src)
	if err != nil {
		return err
	}
	actual, err := fileDigest(dst)
	if err != nil {
		return err
	}
	if expected != actual {
		return &apperrors.ChecksumError{Path: dst, Expected: expected, Actual: actual}
	}
	return nil
}

// linkObject hard-links a source object into the destination's object storage.
// An object already present there is left alone.
func linkObject(src, objectPath string) (bool, error) {
	if _, err := os.Lstat(objectPath); err == nil {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(objectPath), dirPerm); err != nil {
		return false, fmt.Errorf("create object dir: %w", err)
	}
	if err := os.Link(src, objectPath); err != nil {
		return false, fmt.Errorf("link %s to %s: %w", src, objectPath, err)
	}
	return true, nil
}

// copySymlink recreates the symlink src at dst with the same target.
func copySymlink(src, dst string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return fmt.Errorf("read link %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return fmt.Errorf("create parent of %s: %w", dst, err)
	}
	if err := os.Symlink(target, dst); err != nil {
		return fmt.Errorf("symlink %s: %w", dst, err)
	}
	return nil
}

// checkCollision fails with a CollisionError if dst cannot receive an entry.
// A directory merges into an existing directory; anything else must not exist yet.
func checkCollision(dst string, isDir bool) error {
	info, err := os.Lstat(dst)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", dst, err)
	}
	if isDir && info.IsDir() {
		return nil
	}
	return &apperrors.CollisionError{Path: dst}
}

// verifyKeyDigest compares the sizes and digests embedded in the source and destination keys.
// Sizes are compared whenever both keys carry one.
// Keys that do not embed a digest, or that use different hash families, are not compared.
func verifyKeyDigest(logger *slog.Logger, srcKey, destKey, destPath string) error {
	src, err := store.ParseKey(srcKey)
	if err != nil {
		return fmt.Errorf("parse source key: %w", err)
	}
	dst, err := store.ParseKey(destKey)
	if err != nil {
		return fmt.Errorf("parse destination key: %w", err)
	}

	if src.Size >= 0 && dst.Size >= 0 && src.Size != dst.Size {
		return &apperrors.ChecksumError{
			Path:     destPath,
			Expected: fmt.Sprintf("%d bytes", src.Size),
			Actual:   fmt.Sprintf("%d bytes", dst.Size),
		}
	}

	if !src.ChecksumAddressed() || !dst.ChecksumAddressed() {
		return nil
	}
	if src.HashFamily() != dst.HashFamily() {
		logger.Warn("backends differ, key digests not compared",
			"path", destPath,
			"source_key", srcKey,
			"dest_key", destKey)
		return nil
	}
	if src.Digest() != dst.Digest() {
		return &apperrors.ChecksumError{Path: destPath, Expected: src.Digest(), Actual: dst.Digest()}
	}
	return nil
}
