package filefetcher

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/data-spider/internal/spider"
)

func TestTransportReadsFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "page-1.json"), []byte(`[1]`), 0o600))

	tr := New(dir)
	resp, err := tr.Do(context.Background(), "page-1.json", spider.Target{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `[1]`, string(resp.Body))

	resp, err = New("").Do(context.Background(), "file://"+filepath.Join(dir, "page-1.json"), spider.Target{})
	require.NoError(t, err)
	assert.Equal(t, `[1]`, string(resp.Body))
}

func TestTransportMissingFileIsNotFound(t *testing.T) {
	t.Parallel()

	resp, err := New(t.TempDir()).Do(context.Background(), "nope.json", spider.Target{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTransportEmptyLocatorIsFatal(t *testing.T) {
	t.Parallel()

	_, err := New("").Do(context.Background(), "", spider.Target{})
	require.Error(t, err)
	assert.Equal(t, spider.KindFatal, spider.KindOf(err))
}
