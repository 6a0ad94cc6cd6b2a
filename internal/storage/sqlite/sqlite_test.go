package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/ocrtrack/internal/log"
	"github.com/slok/ocrtrack/internal/model"
	"github.com/slok/ocrtrack/internal/storage/sqlite"
)

var baseTime = time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)

func completedFixture(localID, taskID string, finished time.Time) model.HistoryEntry {
	return model.HistoryEntry{
		LocalID:     localID,
		TaskID:      taskID,
		FileName:    "invoice.pdf",
		ContentType: "application/pdf",
		SizeBytes:   2048,
		Status:      model.TaskStatusCompleted,
		Result: &model.Result{
			TaskID: taskID,
			Status: model.RemoteStatusCompleted,
			Pages: []model.PageResult{
				{
					PageNumber:    1,
					ExtractedText: "Invoice 42",
					Confidence:    0.93,
					StructuredData: &model.StructuredData{
						Type:   "invoice",
						Fields: []model.StructuredField{{Key: "total", Value: "12.50", Confidence: 0.8}},
						Tables: []model.TableData{{Headers: []string{"item", "price"}, Rows: [][]string{{"pen", "2.50"}}}},
					},
				},
				{PageNumber: 2, ExtractedText: "Thanks", Confidence: 0.7},
			},
			CreatedAt: baseTime,
			UpdatedAt: finished,
		},
		CreatedAt:  baseTime,
		FinishedAt: finished,
	}
}

func failedFixture(localID, taskID string, finished time.Time) model.HistoryEntry {
	return model.HistoryEntry{
		LocalID:      localID,
		TaskID:       taskID,
		FileName:     "broken.png",
		ContentType:  "image/png",
		SizeBytes:    10,
		Status:       model.TaskStatusFailed,
		ErrorMessage: "upload failed",
		CreatedAt:    baseTime,
		FinishedAt:   finished,
	}
}

func newRepo(t *testing.T) *sqlite.Repository {
	t.Helper()
	repo, err := sqlite.NewRepository(context.Background(), sqlite.RepositoryConfig{
		DBPath: filepath.Join(t.TempDir(), "history", "test.db"),
		Logger: log.Noop,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestNewRepositoryInvalidConfig(t *testing.T) {
	_, err := sqlite.NewRepository(context.Background(), sqlite.RepositoryConfig{})
	assert.Error(t, err)
}

func TestRepositorySaveAndGet(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	entry := completedFixture("l1", "t1", baseTime.Add(time.Minute))
	require.NoError(t, repo.SaveEntry(ctx, entry))

	got, err := repo.GetEntry(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, entry, *got)

	// Saving the same local ID replaces the entry.
	entry.FileName = "invoice-2.pdf"
	require.NoError(t, repo.SaveEntry(ctx, entry))
	got, err = repo.GetEntry(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "invoice-2.pdf", got.FileName)

	all, err := repo.ListEntries(ctx, model.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// The latest entry of a task ID wins.
	newer := completedFixture("l2", "t1", baseTime.Add(time.Hour))
	newer.Result.Pages = newer.Result.Pages[:1]
	require.NoError(t, repo.SaveEntry(ctx, newer))
	got, err = repo.GetEntry(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "l2", got.LocalID)
	assert.Len(t, got.Result.Pages, 1)
}

func TestRepositorySaveErrors(t *testing.T) {
	tests := map[string]struct {
		entry  model.HistoryEntry
		expErr error
	}{
		"An entry without local ID should fail.": {
			entry:  model.HistoryEntry{Status: model.TaskStatusCompleted},
			expErr: model.ErrNotValid,
		},
		"A not finished entry should fail.": {
			entry:  model.HistoryEntry{LocalID: "l1", Status: model.TaskStatusProcessing},
			expErr: model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			repo := newRepo(t)
			err := repo.SaveEntry(context.Background(), test.entry)
			assert.ErrorIs(t, err, test.expErr)
		})
	}
}

func TestRepositoryGetErrors(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	require.NoError(t, repo.SaveEntry(ctx, failedFixture("l1", "", baseTime)))

	_, err := repo.GetEntry(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = repo.GetEntry(ctx, "")
	assert.ErrorIs(t, err, model.ErrNotValid)
}

func TestRepositoryListEntries(t *testing.T) {
	ctx := context.Background()

	tests := map[string]struct {
		filter      model.HistoryFilter
		expLocalIDs []string
		expErr      bool
	}{
		"Without filter should return all the entries, latest first.": {
			filter:      model.HistoryFilter{},
			expLocalIDs: []string{"l4", "l3", "l2", "l1"},
		},
		"Filtering by status should return only those entries.": {
			filter:      model.HistoryFilter{Status: model.TaskStatusFailed},
			expLocalIDs: []string{"l4", "l2"},
		},
		"A limit should return the latest entries.": {
			filter:      model.HistoryFilter{Limit: 2},
			expLocalIDs: []string{"l4", "l3"},
		},
		"A limit with status should apply both.": {
			filter:      model.HistoryFilter{Status: model.TaskStatusCompleted, Limit: 1},
			expLocalIDs: []string{"l3"},
		},
		"A status without entries should return nothing.": {
			filter:      model.HistoryFilter{Status: model.TaskStatusPending},
			expLocalIDs: []string{},
		},
		"A negative limit should fail.": {
			filter: model.HistoryFilter{Limit: -1},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			repo := newRepo(t)
			require.NoError(t, repo.SaveEntry(ctx, completedFixture("l1", "t1", baseTime.Add(1*time.Minute))))
			require.NoError(t, repo.SaveEntry(ctx, failedFixture("l2", "", baseTime.Add(2*time.Minute))))
			require.NoError(t, repo.SaveEntry(ctx, completedFixture("l3", "t3", baseTime.Add(3*time.Minute))))
			require.NoError(t, repo.SaveEntry(ctx, failedFixture("l4", "t4", baseTime.Add(4*time.Minute))))

			entries, err := repo.ListEntries(ctx, test.filter)
			if test.expErr {
				assert.ErrorIs(t, err, model.ErrNotValid)
				return
			}
			require.NoError(t, err)

			gotIDs := []string{}
			for _, e := range entries {
				gotIDs = append(gotIDs, e.LocalID)
			}
			assert.Equal(t, test.expLocalIDs, gotIDs)
		})
	}
}

func TestRepositoryDeleteEntriesBefore(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	require.NoError(t, repo.SaveEntry(ctx, completedFixture("l1", "t1", baseTime)))
	require.NoError(t, repo.SaveEntry(ctx, failedFixture("l2", "t2", baseTime.Add(time.Hour))))
	require.NoError(t, repo.SaveEntry(ctx, completedFixture("l3", "t3", baseTime.Add(2*time.Hour))))

	n, err := repo.DeleteEntriesBefore(ctx, baseTime.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	entries, err := repo.ListEntries(ctx, model.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "l3", entries[0].LocalID)

	n, err = repo.DeleteEntriesBefore(ctx, baseTime)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestRepositoryDeleteEntries(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	// The same server task processed twice and another task.
	require.NoError(t, repo.SaveEntry(ctx, completedFixture("l1", "t1", baseTime)))
	require.NoError(t, repo.SaveEntry(ctx, completedFixture("l2", "t1", baseTime.Add(time.Hour))))
	require.NoError(t, repo.SaveEntry(ctx, completedFixture("l3", "t2", baseTime.Add(2*time.Hour))))

	n, err := repo.DeleteEntries(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = repo.GetEntry(ctx, "t1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = repo.GetEntry(ctx, "t2")
	assert.NoError(t, err)

	n, err = repo.DeleteEntries(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	_, err = repo.DeleteEntries(ctx, "")
	assert.ErrorIs(t, err, model.ErrNotValid)
}

func TestRepositoryReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{DBPath: path})
	require.NoError(t, err)
	require.NoError(t, repo.SaveEntry(ctx, completedFixture("l1", "t1", baseTime)))
	require.NoError(t, repo.Close())

	repo, err = sqlite.NewRepository(ctx, sqlite.RepositoryConfig{DBPath: path})
	require.NoError(t, err)
	defer repo.Close()

	got, err := repo.GetEntry(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Invoice 42\n\nThanks", got.Result.Text())
}
