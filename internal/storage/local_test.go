package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestProvider(t *testing.T) (*LocalProvider, string) {
	t.Helper()
	dir := t.TempDir()
	provider, err := NewLocalProvider(dir)
	require.NoError(t, err)
	return provider, dir
}

func TestLocalProvider_PutGetObject(t *testing.T) {
	provider, baseDir := setupTestProvider(t)

	bucket := "test-bucket"
	key := "session/train/data.csv"
	content := []byte("a,b\n1,2\n")

	err := provider.PutObject(context.Background(), bucket, key, bytes.NewReader(content))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(baseDir, bucket, key))
	require.NoError(t, err)
	assert.Equal(t, content, data)

	data, err = provider.GetObject(context.Background(), bucket, key)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestLocalProvider_GetMissingObject(t *testing.T) {
	provider, _ := setupTestProvider(t)

	_, err := provider.GetObject(context.Background(), "test-bucket", "missing.csv")
	assert.Error(t, err)
}

func TestLocalProvider_RejectsEscapingKeys(t *testing.T) {
	provider, _ := setupTestProvider(t)

	for _, key := range []string{"", "../escape.csv", "a/../../escape.csv", "/abs.csv"} {
		err := provider.PutObject(context.Background(), "test-bucket", key, bytes.NewReader([]byte("x")))
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
	}
}

func TestCreateBuckets(t *testing.T) {
	provider, baseDir := setupTestProvider(t)

	require.NoError(t, CreateBuckets(context.Background(), provider))

	for _, bucket := range []string{UploadBucket, ExtractedBucket, ResultBucket} {
		info, err := os.Stat(filepath.Join(baseDir, bucket))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
