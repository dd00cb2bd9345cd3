package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildrelay/internal/build"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func resultAt(id, project string, status build.Status, completed time.Time) *build.Result {
	return &build.Result{
		ID:              id,
		ProjectName:     project,
		Status:          status,
		StartedAt:       completed.Add(-30 * time.Second),
		CompletedAt:     completed,
		DurationSeconds: 30,
		Logs: []build.Log{
			{Timestamp: completed, Step: 0, Level: build.LevelInfo, Message: "Build started"},
		},
	}
}

func TestAppendAndRecent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, store.Append(ctx, resultAt("b1", "web", build.StatusSuccess, now.Add(-2*time.Minute))))
	require.NoError(t, store.Append(ctx, resultAt("b2", "web", build.StatusFailed, now.Add(-time.Minute))))
	require.NoError(t, store.Append(ctx, resultAt("b3", "docs", build.StatusSuccess, now)))

	results, err := store.Recent(ctx, "web", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "b2", results[0].ID, "newest first")
	assert.Equal(t, "b1", results[1].ID)
	assert.Equal(t, build.StatusFailed, results[0].Status)
	require.Len(t, results[0].Logs, 1)
	assert.Equal(t, "Build started", results[0].Logs[0].Message)
}

func TestRecentHonorsLimit(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		require.NoError(t, store.Append(ctx, resultAt(id, "web", build.StatusSuccess, now.Add(time.Duration(i)*time.Minute))))
	}

	results, err := store.Recent(ctx, "web", 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestPruneOlderThan(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Append(ctx, resultAt("old", "web", build.StatusSuccess, now.Add(-48*time.Hour))))
	require.NoError(t, store.Append(ctx, resultAt("new", "web", build.StatusSuccess, now)))

	n, err := store.PruneOlderThan(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	results, err := store.Recent(ctx, "web", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0].ID)
}

func TestWriteLogFile(t *testing.T) {
	dir := t.TempDir()
	logs := []build.Log{
		{Message: "Build started"},
		{Message: "hello"},
		{Message: "Build succeeded"},
	}
	require.NoError(t, WriteLogFile(dir, "b1", logs))

	data, err := os.ReadFile(filepath.Join(dir, "b1.log"))
	require.NoError(t, err)
	assert.Equal(t, "Build started\nhello\nBuild succeeded\n", string(data))

	// Rewriting truncates the previous content.
	require.NoError(t, WriteLogFile(dir, "b1", logs[:1]))
	data, err = os.ReadFile(filepath.Join(dir, "b1.log"))
	require.NoError(t, err)
	assert.Equal(t, "Build started\n", string(data))
}

func TestPruneLogFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.log")
	require.NoError(t, os.WriteFile(old, []byte("x\n"), 0o644))
	stale := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, stale, stale))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.log"), []byte("y\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("z\n"), 0o644))

	n, err := PruneLogFiles(dir, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "new.log"))
	assert.NoError(t, err)

	n, err = PruneLogFiles(filepath.Join(dir, "missing"), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}
