package dlq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(id int64, kind string, failedAt time.Time) Entry {
	return Entry{TaskID: id, Kind: kind, CreatedAt: failedAt, FailedAt: failedAt}
}

func TestMemoryDLQ_AddAndList(t *testing.T) {
	d := NewMemoryDLQ()
	ctx := context.Background()
	require.NoError(t, d.Add(ctx, entry(1, "text_processing", time.Now())))
	require.NoError(t, d.Add(ctx, entry(2, "ai_summarization", time.Now())))

	all, err := d.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := d.List(ctx, "text_processing")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, int64(1), filtered[0].TaskID)
}

func TestMemoryDLQ_Pop_RemovesAndReturns(t *testing.T) {
	d := NewMemoryDLQ()
	ctx := context.Background()
	require.NoError(t, d.Add(ctx, entry(1, "k", time.Now())))

	got, err := d.Pop(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.TaskID)

	ok, _ := d.Contains(ctx, 1)
	assert.False(t, ok)
}

func TestMemoryDLQ_Pop_AbsentReturnsNilNil(t *testing.T) {
	d := NewMemoryDLQ()
	got, err := d.Pop(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryDLQ_Contains(t *testing.T) {
	d := NewMemoryDLQ()
	ctx := context.Background()
	ok, _ := d.Contains(ctx, 1)
	assert.False(t, ok)
	require.NoError(t, d.Add(ctx, entry(1, "k", time.Now())))
	ok, _ = d.Contains(ctx, 1)
	assert.True(t, ok)
}

func TestMemoryDLQ_Purge_RemovesOlderThanCutoff(t *testing.T) {
	d := NewMemoryDLQ()
	ctx := context.Background()
	old := entry(1, "k", time.Now().Add(-200*time.Hour))
	recent := entry(2, "k", time.Now())
	require.NoError(t, d.Add(ctx, old))
	require.NoError(t, d.Add(ctx, recent))

	count, err := d.Purge(ctx, "", 168)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	ok, _ := d.Contains(ctx, 1)
	assert.False(t, ok)
	ok, _ = d.Contains(ctx, 2)
	assert.True(t, ok)
}

func TestMemoryDLQ_Purge_FiltersByKind(t *testing.T) {
	d := NewMemoryDLQ()
	ctx := context.Background()
	old := time.Now().Add(-200 * time.Hour)
	require.NoError(t, d.Add(ctx, entry(1, "a", old)))
	require.NoError(t, d.Add(ctx, entry(2, "b", old)))

	count, err := d.Purge(ctx, "a", 168)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	ok, _ := d.Contains(ctx, 2)
	assert.True(t, ok)
}

func TestMemoryDLQ_Size(t *testing.T) {
	d := NewMemoryDLQ()
	ctx := context.Background()
	size, _ := d.Size(ctx)
	assert.Equal(t, int64(0), size)
	require.NoError(t, d.Add(ctx, entry(1, "k", time.Now())))
	size, _ = d.Size(ctx)
	assert.Equal(t, int64(1), size)
}
