package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/courier/internal/storage"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "courier.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestBeginComplete(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	id, err := j.Begin(ctx, KindMessage, "help", "app.x")
	require.NoError(t, err)

	entries, err := j.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, StatusRunning, entries[0].Status)
	assert.Equal(t, "app.x", entries[0].Identity)
	assert.Nil(t, entries[0].CompletedAt)

	require.NoError(t, j.Complete(ctx, id, StatusFailed, "boom"))

	entries, err = j.List(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, entries[0].Status)
	assert.Equal(t, "boom", entries[0].Error)
	assert.NotNil(t, entries[0].CompletedAt)

	// A completed activation cannot complete again.
	assert.ErrorIs(t, j.Complete(ctx, id, StatusSucceeded, ""), ErrNotFound)
	assert.ErrorIs(t, j.Complete(ctx, "nope", StatusSucceeded, ""), ErrNotFound)
}

func TestBeginRequiresName(t *testing.T) {
	_, err := newTestJournal(t).Begin(context.Background(), KindBackground, "", "")
	assert.Error(t, err)
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	step := 0
	j.now = func() time.Time { step++; return base.Add(time.Duration(step) * time.Minute) }

	for _, name := range []string{"first", "second", "third"} {
		_, err := j.Begin(ctx, KindBackground, name, "")
		require.NoError(t, err)
	}

	entries, err := j.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "third", entries[0].Name)
	assert.Equal(t, "second", entries[1].Name)
	assert.Empty(t, entries[0].Identity)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now.Add(-48 * time.Hour) }

	old, err := j.Begin(ctx, KindMessage, "old", "app.x")
	require.NoError(t, err)
	require.NoError(t, j.Complete(ctx, old, StatusSucceeded, ""))
	stillRunning, err := j.Begin(ctx, KindMessage, "stuck", "app.x")
	require.NoError(t, err)

	j.now = func() time.Time { return now }
	fresh, err := j.Begin(ctx, KindMessage, "fresh", "app.x")
	require.NoError(t, err)
	require.NoError(t, j.Complete(ctx, fresh, StatusSucceeded, ""))

	n, err := j.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := j.List(ctx, 10)
	require.NoError(t, err)
	var ids []string
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	assert.ElementsMatch(t, []string{stillRunning, fresh}, ids)

	n, err = j.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFailRunning(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	running, err := j.Begin(ctx, KindBackground, "sync", "")
	require.NoError(t, err)
	done, err := j.Begin(ctx, KindBackground, "sync", "")
	require.NoError(t, err)
	require.NoError(t, j.Complete(ctx, done, StatusSucceeded, ""))

	n, err := j.FailRunning(ctx, "interrupted by restart")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := j.List(ctx, 10)
	require.NoError(t, err)
	for _, e := range entries {
		if e.ID == running {
			assert.Equal(t, StatusFailed, e.Status)
			assert.Equal(t, "interrupted by restart", e.Error)
		} else {
			assert.Equal(t, StatusSucceeded, e.Status)
		}
	}
}
