// Package local_test tests the local filesystem blob store.
package local_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/data-spider/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		tempDir := t.TempDir()
		cfg := local.Config{BaseDir: tempDir}
		store, err := local.New(cfg)
		require.NoError(t, err)
		assert.NotNil(t, store)
	})
	t.Run("MissingBaseDir", func(t *testing.T) {
		cfg := local.Config{}
		_, err := local.New(cfg)
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		tempFile, err := os.CreateTemp("", "testfile")
		require.NoError(t, err)
		t.Cleanup(func() {
			removeErr := os.Remove(tempFile.Name())
			if removeErr != nil && !os.IsNotExist(removeErr) {
				t.Fatalf("failed to remove temp file: %v", removeErr)
			}
		})

		cfg := local.Config{BaseDir: tempFile.Name()}
		_, err = local.New(cfg)
		assert.Error(t, err)
	})

	t.Run("BaseDirNotWritable", func(t *testing.T) {
		tempDir := t.TempDir()
		// Change permissions to read-only
		// #nosec G302 -- directory permissions adjusted intentionally for test coverage.
		err := os.Chmod(tempDir, 0o500)
		require.NoError(t, err)

		cfg := local.Config{BaseDir: tempDir}
		_, err = local.New(cfg)
		assert.Error(t, err)

		// Change back to writable so cleanup can happen
		// #nosec G302 -- reverting permissions to allow cleanup in the test environment.
		err = os.Chmod(tempDir, 0o700)
		require.NoError(t, err)
	})
}

func TestPutObject(t *testing.T) {
	tempDir := t.TempDir()
	cfg := local.Config{BaseDir: tempDir}
	store, err := local.New(cfg)
	require.NoError(t, err)

	t.Run("ValidPut", func(t *testing.T) {
		path := "test/object.txt"
		data := []byte("hello world")
		uri, err := store.PutObject(context.Background(), path, "text/plain", bytes.NewReader(data))
		require.NoError(t, err)

		expectedURI := "file://" + filepath.Join(tempDir, path)
		assert.Equal(t, expectedURI, uri)

		// Verify the file was written correctly.
		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, path))
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "", "text/plain", bytes.NewReader([]byte("data")))
		assert.Error(t, err)
	})

	t.Run("NestedPath", func(t *testing.T) {
		path := "a/b/c/object.txt"
		data := []byte("nested hello")
		uri, err := store.PutObject(context.Background(), path, "text/plain", bytes.NewReader(data))
		require.NoError(t, err)

		expectedURI := "file://" + filepath.Join(tempDir, path)
		assert.Equal(t, expectedURI, uri)

		// Verify the file was written correctly.
		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, path))
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("stream reset")
}

func TestPutObjectLeavesNoPartialFiles(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("FailedReadKeepsTargetAbsent", func(t *testing.T) {
		_, err := store.PutObject(ctx, "broken/object.bin", "application/octet-stream", failingReader{})
		require.Error(t, err)

		exists, err := store.Exists(ctx, "broken/object.bin")
		require.NoError(t, err)
		assert.False(t, exists)

		entries, err := os.ReadDir(filepath.Join(tempDir, "broken"))
		require.NoError(t, err)
		assert.Empty(t, entries, "temp file should be removed")
	})

	t.Run("FailedReadKeepsPreviousVersion", func(t *testing.T) {
		_, err := store.PutObject(ctx, "kept/object.txt", "text/plain", bytes.NewReader([]byte("v1")))
		require.NoError(t, err)

		_, err = store.PutObject(ctx, "kept/object.txt", "text/plain", failingReader{})
		require.Error(t, err)

		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, "kept", "object.txt"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), readData)

		entries, err := os.ReadDir(filepath.Join(tempDir, "kept"))
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("OverwriteLeavesSingleFile", func(t *testing.T) {
		for _, body := range []string{"first", "second"} {
			_, err := store.PutObject(ctx, "over/object.txt", "text/plain", bytes.NewReader([]byte(body)))
			require.NoError(t, err)
		}
		entries, err := os.ReadDir(filepath.Join(tempDir, "over"))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "object.txt", entries[0].Name())
	})
}

func TestExistsAndDelete(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	exists, err := store.Exists(ctx, "cat/a/b/abc.json")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.PutObject(ctx, "cat/a/b/abc.json", "application/json", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)

	exists, err = store.Exists(ctx, "cat/a/b/abc.json")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists(ctx, "cat/a")
	require.NoError(t, err)
	assert.False(t, exists, "directories are not objects")

	require.NoError(t, store.Delete(ctx, "cat/a/b/abc.json"))
	require.NoError(t, store.Delete(ctx, "cat/a/b/abc.json"), "deleting twice is fine")

	exists, err = store.Exists(ctx, "cat/a/b/abc.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHasPrefix(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	has, err := store.HasPrefix(ctx, "cat")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, os.MkdirAll(filepath.Join(tempDir, "cat"), 0o750))
	has, err = store.HasPrefix(ctx, "cat")
	require.NoError(t, err)
	assert.False(t, has, "empty directory does not count")

	_, err = store.PutObject(ctx, "cat/x.json", "", bytes.NewReader([]byte("1")))
	require.NoError(t, err)
	has, err = store.HasPrefix(ctx, "cat")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestPathTraversalRejected(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "../escape.txt", "", bytes.NewReader([]byte("x")))
	require.Error(t, err)
	_, err = store.Exists(context.Background(), "../../etc/passwd")
	require.Error(t, err)
}

func TestReadOnlyDoesNotCreateBaseDir(t *testing.T) {
	base := filepath.Join(t.TempDir(), "missing")
	store, err := local.New(local.Config{BaseDir: base, ReadOnly: true})
	require.NoError(t, err)

	_, statErr := os.Stat(base)
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, "file://"+filepath.Join(base, "cat"), store.URI("cat"))
}
