//go:build integration

package integrationtests

import (
	"context"
	"strings"
	"testing"
	"time"

	"automl-backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3Provider(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	provider := createS3Provider(t, ctx)

	require.NoError(t, storage.CreateBuckets(ctx, provider))
	// Creating existing buckets is not an error.
	require.NoError(t, storage.CreateBuckets(ctx, provider))

	t.Run("Put and Get Object", func(t *testing.T) {
		key := "session/train/upload/train.csv"
		content := "a,b\n1,2\n"

		require.NoError(t, provider.PutObject(ctx, storage.UploadBucket, key, strings.NewReader(content)))

		data, err := provider.GetObject(ctx, storage.UploadBucket, key)
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	})

	t.Run("Overwrite Object", func(t *testing.T) {
		key := "session/results/predictions.csv"

		require.NoError(t, provider.PutObject(ctx, storage.ResultBucket, key, strings.NewReader("old")))
		require.NoError(t, provider.PutObject(ctx, storage.ResultBucket, key, strings.NewReader("new")))

		data, err := provider.GetObject(ctx, storage.ResultBucket, key)
		require.NoError(t, err)
		assert.Equal(t, "new", string(data))
	})

	t.Run("Missing Object", func(t *testing.T) {
		_, err := provider.GetObject(ctx, storage.UploadBucket, "does/not/exist.csv")
		assert.Error(t, err)
	})
}
