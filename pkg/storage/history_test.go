package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryRecordAndList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "state.db")
	history, err := Open(path)
	require.NoError(t, err)

	ctx := context.Background()
	older := &Publication{
		Publication: "mavenJava",
		Coordinates: "com.oop:memory-store:1.8",
		Repository:  "mavenLocal",
		Time:        time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	newer := &Publication{
		Publication: "mavenJava",
		Coordinates: "com.oop:memory-store:1.9",
		Repository:  "maven",
		SHA256:      "abc",
	}

	require.NoError(t, history.Record(ctx, older))
	require.NoError(t, history.Record(ctx, newer))
	assert.NotEmpty(t, older.ID)
	assert.NotEqual(t, older.ID, newer.ID)
	assert.False(t, newer.Time.IsZero())

	records, err := history.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "com.oop:memory-store:1.9", records[0].Coordinates)
	assert.Equal(t, "abc", records[0].SHA256)
	assert.Equal(t, "com.oop:memory-store:1.8", records[1].Coordinates)

	require.NoError(t, history.Close())

	// records survive reopening
	history, err = Open(path)
	require.NoError(t, err)
	defer history.Close()

	records, err = history.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestHistoryBatchUpdate(t *testing.T) {
	history, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer history.Close()

	err = history.BatchUpdate(context.Background(), func(ctx context.Context) error {
		assert.NotNil(t, TxFromCtx(ctx))
		for _, repo := range []string{"mavenLocal", "maven"} {
			if err := history.Record(ctx, &Publication{Repository: repo}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	assert.Nil(t, TxFromCtx(context.Background()))

	records, err := history.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
