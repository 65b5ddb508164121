package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "exports/run.csv", "text/csv", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://exports/run.csv", uri)

	payload[0] = 'C'
	obj, ok := store.Get("exports/run.csv")
	require.True(t, ok)
	require.Equal(t, "content", string(obj.Data))
	require.Equal(t, "text/csv", obj.ContentType)

	obj.Data[0] = 'X'
	again, _ := store.Get("exports/run.csv")
	require.Equal(t, "content", string(again.Data))

	require.Equal(t, []string{"exports/run.csv"}, store.Paths())
	_, ok = store.Get("missing")
	require.False(t, ok)
}
