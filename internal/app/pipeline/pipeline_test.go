package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/ocrtrack/internal/app/pipeline"
	"github.com/slok/ocrtrack/internal/log"
	"github.com/slok/ocrtrack/internal/model"
	"github.com/slok/ocrtrack/internal/ocr"
	"github.com/slok/ocrtrack/internal/ocr/fake"
	"github.com/slok/ocrtrack/internal/ocr/local"
	"github.com/slok/ocrtrack/internal/ocr/ocrmock"
	"github.com/slok/ocrtrack/internal/progress"
	progressmemory "github.com/slok/ocrtrack/internal/progress/memory"
	"github.com/slok/ocrtrack/internal/storage"
	storagememory "github.com/slok/ocrtrack/internal/storage/memory"
	"github.com/slok/ocrtrack/internal/storage/storagemock"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var testResult = &model.Result{
	TaskID: "t1",
	Status: model.RemoteStatusCompleted,
	Pages:  []model.PageResult{{PageNumber: 1, ExtractedText: "hello", Confidence: 0.9}},
}

func newTestService(t *testing.T, backend ocr.Backend, hub *progressmemory.Hub, maxConcurrent int64) (*pipeline.Service, *storagememory.TaskStore) {
	t.Helper()

	store, err := storagememory.NewTaskStore(storagememory.TaskStoreConfig{})
	require.NoError(t, err)

	cfg := pipeline.ServiceConfig{
		Store:         store,
		Backend:       backend,
		Reconnect:     progress.FixedBackoff{Interval: 10 * time.Millisecond},
		MaxConcurrent: maxConcurrent,
	}
	if hub != nil {
		cfg.Dialer = hub
	}

	svc, err := pipeline.NewService(cfg)
	require.NoError(t, err)

	return svc, store
}

func getTask(t *testing.T, store storage.TaskStore, index int) model.TaskRecord {
	t.Helper()
	rec, ok := store.Get(index)
	require.True(t, ok)
	return rec
}

func TestNewService(t *testing.T) {
	store, err := storagememory.NewTaskStore(storagememory.TaskStoreConfig{})
	require.NoError(t, err)

	tests := map[string]struct {
		config pipeline.ServiceConfig
		expErr bool
	}{
		"valid config should create service": {
			config: pipeline.ServiceConfig{
				Store:   store,
				Backend: &ocrmock.MockBackend{},
				Logger:  log.Noop,
			},
		},
		"missing store should fail": {
			config: pipeline.ServiceConfig{
				Backend: &ocrmock.MockBackend{},
			},
			expErr: true,
		},
		"missing backend should fail": {
			config: pipeline.ServiceConfig{
				Store: store,
			},
			expErr: true,
		},
		"negative concurrency should fail": {
			config: pipeline.ServiceConfig{
				Store:         store,
				Backend:       &ocrmock.MockBackend{},
				MaxConcurrent: -1,
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			svc, err := pipeline.NewService(test.config)
			if test.expErr {
				require.Error(err)
			} else {
				require.NoError(err)
				require.NotNil(svc)
			}
		})
	}
}

func TestServiceStart(t *testing.T) {
	tests := map[string]struct {
		mock    func(m *ocrmock.MockBackend)
		expTask func(t *testing.T, rec model.TaskRecord)
	}{
		"A successful upload and process should complete the task.": {
			mock: func(m *ocrmock.MockBackend) {
				m.On("Upload", mock.Anything, mock.Anything).Once().Return("t1", nil)
				m.On("Process", mock.Anything, "t1").Once().Return(testResult, nil)
			},
			expTask: func(t *testing.T, rec model.TaskRecord) {
				assert.Equal(t, model.TaskStatusCompleted, rec.Status)
				assert.Equal(t, "t1", rec.ID)
				assert.Equal(t, 100, rec.Progress)
				assert.Equal(t, testResult, rec.Result)
				assert.Empty(t, rec.ErrorMessage)
			},
		},

		"A failed upload should fail the task with the upload message without processing.": {
			mock: func(m *ocrmock.MockBackend) {
				m.On("Upload", mock.Anything, mock.Anything).Once().Return("", &model.UploadError{Message: "file too large"})
			},
			expTask: func(t *testing.T, rec model.TaskRecord) {
				assert.Equal(t, model.TaskStatusFailed, rec.Status)
				assert.Equal(t, "file too large", rec.ErrorMessage)
				assert.Empty(t, rec.ID)
				assert.Nil(t, rec.Result)
			},
		},

		"An upload without task ID should fail the task.": {
			mock: func(m *ocrmock.MockBackend) {
				m.On("Upload", mock.Anything, mock.Anything).Once().Return("", nil)
			},
			expTask: func(t *testing.T, rec model.TaskRecord) {
				assert.Equal(t, model.TaskStatusFailed, rec.Status)
				assert.Equal(t, "upload returned an empty task id", rec.ErrorMessage)
			},
		},

		"A failed process should fail the task with the process message.": {
			mock: func(m *ocrmock.MockBackend) {
				m.On("Upload", mock.Anything, mock.Anything).Once().Return("t1", nil)
				m.On("Process", mock.Anything, "t1").Once().Return(nil, &model.ProcessError{Message: "OCR engine error"})
			},
			expTask: func(t *testing.T, rec model.TaskRecord) {
				assert.Equal(t, model.TaskStatusFailed, rec.Status)
				assert.Equal(t, "t1", rec.ID)
				assert.Equal(t, "OCR engine error", rec.ErrorMessage)
				assert.Nil(t, rec.Result)
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			m := &ocrmock.MockBackend{}
			test.mock(m)

			hub := progressmemory.NewHub(nil)
			svc, store := newTestService(t, m, hub, 0)

			store.Add(model.NewBytesSourceFile("A.pdf", []byte("%PDF")))
			require.True(t, svc.Start(context.Background(), 0))
			svc.Wait()

			m.AssertExpectations(t)
			test.expTask(t, getTask(t, store, 0))

			// No channel outlives its task.
			assert.Eventually(t, func() bool { return hub.Connections("t1") == 0 }, waitFor, tick)
		})
	}
}

func TestServiceStartOnlyPending(t *testing.T) {
	assert := assert.New(t)

	release := make(chan struct{})
	m := &ocrmock.MockBackend{}
	m.On("Upload", mock.Anything, mock.Anything).Once().Return("t1", nil)
	m.On("Process", mock.Anything, "t1").Once().Run(func(mock.Arguments) { <-release }).Return(testResult, nil)

	svc, store := newTestService(t, m, nil, 0)
	store.Add(model.NewBytesSourceFile("A.pdf", []byte("%PDF")))

	// Only the first start runs.
	assert.True(svc.Start(context.Background(), 0))
	assert.False(svc.Start(context.Background(), 0))
	assert.False(svc.Start(context.Background(), 5))
	assert.False(svc.Start(context.Background(), -1))

	close(release)
	svc.Wait()

	// Terminal tasks are not restarted.
	assert.False(svc.Start(context.Background(), 0))
	assert.Equal(0, svc.StartAll(context.Background()))
	m.AssertExpectations(t)
}

func TestServiceProgressAndAuthoritativeCompletion(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	release := make(chan struct{})
	m := &ocrmock.MockBackend{}
	m.On("Upload", mock.Anything, mock.Anything).Once().Return("t1", nil)
	m.On("Process", mock.Anything, "t1").Once().Run(func(mock.Arguments) { <-release }).Return(testResult, nil)

	hub := progressmemory.NewHub(nil)
	svc, store := newTestService(t, m, hub, 0)

	store.Add(model.NewBytesSourceFile("A.pdf", []byte("%PDF")))
	require.True(svc.Start(context.Background(), 0))

	require.Eventually(func() bool { return hub.Connections("t1") == 1 }, waitFor, tick)
	rec := getTask(t, store, 0)
	assert.Equal(model.TaskStatusProcessing, rec.Status)
	assert.Equal("t1", rec.ID)

	_, err := hub.Publish(model.ProgressEvent{TaskID: "t1", Progress: 40, Status: model.RemoteStatusProcessing})
	require.NoError(err)
	_, err = hub.Publish(model.ProgressEvent{TaskID: "t2", Progress: 80, Status: model.RemoteStatusProcessing})
	require.NoError(err)
	_, err = hub.Publish(model.ProgressEvent{TaskID: "t1", Progress: 20, Status: model.RemoteStatusProcessing})
	require.NoError(err)
	require.Eventually(func() bool { return getTask(t, store, 0).Progress == 40 }, waitFor, tick)

	// The channel never reported a terminal status, the process result completes the task.
	close(release)
	svc.Wait()

	rec = getTask(t, store, 0)
	assert.Equal(model.TaskStatusCompleted, rec.Status)
	assert.Equal(100, rec.Progress)
	assert.Equal(testResult, rec.Result)

	// Channel closed, late events have no effect.
	require.Eventually(func() bool { return hub.Connections("t1") == 0 }, waitFor, tick)
	n, err := hub.Publish(model.ProgressEvent{TaskID: "t1", Progress: 50, Status: model.RemoteStatusProcessing})
	require.NoError(err)
	assert.Equal(0, n)
	assert.Equal(100, getTask(t, store, 0).Progress)
	assert.Equal(1, hub.Dials("t1"))
}

func TestServiceRemoveDuringProcessing(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	release := make(chan struct{})
	m := &ocrmock.MockBackend{}
	m.On("Upload", mock.Anything, mock.Anything).Once().Return("t1", nil)
	m.On("Process", mock.Anything, "t1").Once().Run(func(mock.Arguments) { <-release }).Return(testResult, nil)

	hub := progressmemory.NewHub(nil)
	svc, store := newTestService(t, m, hub, 0)

	store.Add(model.NewBytesSourceFile("A.pdf", []byte("%PDF")))
	require.True(svc.Start(context.Background(), 0))
	require.Eventually(func() bool { return hub.Connections("t1") == 1 }, waitFor, tick)

	require.True(svc.Remove(0))
	require.Eventually(func() bool { return hub.Connections("t1") == 0 }, waitFor, tick)
	assert.False(svc.Remove(0))

	var mu sync.Mutex
	snapshots := []storage.Snapshot{}
	unsubscribe := store.Subscribe(func(s storage.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		snapshots = append(snapshots, s)
	})
	defer unsubscribe()

	// The late process result is discarded.
	close(release)
	svc.Wait()

	assert.Equal(0, store.Len())
	mu.Lock()
	assert.Empty(snapshots)
	mu.Unlock()
	assert.Equal(1, hub.Dials("t1"))
	m.AssertExpectations(t)
}

func TestServiceChannelReconnectsWhileProcessing(t *testing.T) {
	require := require.New(t)

	release := make(chan struct{})
	m := &ocrmock.MockBackend{}
	m.On("Upload", mock.Anything, mock.Anything).Once().Return("t1", nil)
	m.On("Process", mock.Anything, "t1").Once().Run(func(mock.Arguments) { <-release }).Return(testResult, nil)

	hub := progressmemory.NewHub(nil)
	svc, store := newTestService(t, m, hub, 0)

	store.Add(model.NewBytesSourceFile("A.pdf", []byte("%PDF")))
	require.True(svc.Start(context.Background(), 0))
	require.Eventually(func() bool { return hub.Connections("t1") == 1 }, waitFor, tick)

	hub.Drop("t1")
	require.Eventually(func() bool { return hub.Connections("t1") == 1 }, waitFor, tick)

	_, err := hub.Publish(model.ProgressEvent{TaskID: "t1", Progress: 70, Status: model.RemoteStatusProcessing})
	require.NoError(err)
	require.Eventually(func() bool { return getTask(t, store, 0).Progress == 70 }, waitFor, tick)

	close(release)
	svc.Wait()
	assert.Equal(t, 2, hub.Dials("t1"))
	assert.Equal(t, model.TaskStatusCompleted, getTask(t, store, 0).Status)
}

// concurrencyBackend tracks the maximum number of concurrent process calls.
type concurrencyBackend struct {
	ocr.Backend
	current atomic.Int64
	max     atomic.Int64
}

func (c *concurrencyBackend) Process(ctx context.Context, taskID string) (*model.Result, error) {
	n := c.current.Add(1)
	defer c.current.Add(-1)
	for {
		m := c.max.Load()
		if n <= m || c.max.CompareAndSwap(m, n) {
			break
		}
	}
	return c.Backend.Process(ctx, taskID)
}

func TestServiceStartAll(t *testing.T) {
	tests := map[string]struct {
		maxConcurrent int64
		expMax        func(t *testing.T, got int64)
	}{
		"Without limit all the tasks should run.": {
			maxConcurrent: 0,
			expMax:        func(t *testing.T, got int64) { assert.GreaterOrEqual(t, got, int64(1)) },
		},
		"With a limit the concurrent tasks should be bounded.": {
			maxConcurrent: 2,
			expMax:        func(t *testing.T, got int64) { assert.LessOrEqual(t, got, int64(2)) },
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			assert := assert.New(t)

			hub := progressmemory.NewHub(nil)
			engine, err := fake.NewEngine(fake.EngineConfig{
				Pages:     2,
				PageDelay: 5 * time.Millisecond,
				FailPage:  fake.FailNamed("broken"),
			})
			require.NoError(err)
			lb, err := local.NewBackend(local.BackendConfig{Engine: engine, Hub: hub})
			require.NoError(err)
			backend := &concurrencyBackend{Backend: lb}

			svc, store := newTestService(t, backend, hub, test.maxConcurrent)
			for _, name := range []string{"a.pdf", "b.png", "broken.pdf", "c.jpg", "d.pdf"} {
				store.Add(model.NewBytesSourceFile(name, []byte("data")))
			}

			assert.Equal(5, svc.StartAll(context.Background()))
			assert.Equal(0, svc.StartAll(context.Background()))
			svc.Wait()

			for _, rec := range store.List() {
				if rec.File.Name == "broken.pdf" {
					assert.Equal(model.TaskStatusFailed, rec.Status)
					assert.Equal("page 1: could not recognize broken.pdf", rec.ErrorMessage)
					continue
				}
				assert.Equal(model.TaskStatusCompleted, rec.Status, rec.File.Name)
				assert.Len(rec.Result.Pages, 2)
			}
			test.expMax(t, backend.max.Load())
		})
	}
}

func TestServiceRecordsHistory(t *testing.T) {
	tests := map[string]struct {
		mock       func(m *ocrmock.MockBackend)
		historyErr error
		expEntry   func(t *testing.T, e model.HistoryEntry)
		expStatus  model.TaskStatus
	}{
		"A completed task should be recorded with its result.": {
			mock: func(m *ocrmock.MockBackend) {
				m.On("Upload", mock.Anything, mock.Anything).Once().Return("t1", nil)
				m.On("Process", mock.Anything, "t1").Once().Return(testResult, nil)
			},
			expEntry: func(t *testing.T, e model.HistoryEntry) {
				assert.Equal(t, "t1", e.TaskID)
				assert.Equal(t, "A.pdf", e.FileName)
				assert.Equal(t, model.TaskStatusCompleted, e.Status)
				assert.Equal(t, testResult, e.Result)
			},
			expStatus: model.TaskStatusCompleted,
		},

		"A task failed on upload should be recorded without task ID.": {
			mock: func(m *ocrmock.MockBackend) {
				m.On("Upload", mock.Anything, mock.Anything).Once().Return("", &model.UploadError{Message: "file too large"})
			},
			expEntry: func(t *testing.T, e model.HistoryEntry) {
				assert.Empty(t, e.TaskID)
				assert.Equal(t, model.TaskStatusFailed, e.Status)
				assert.Equal(t, "file too large", e.ErrorMessage)
			},
			expStatus: model.TaskStatusFailed,
		},

		"A history failure should not change the task result.": {
			mock: func(m *ocrmock.MockBackend) {
				m.On("Upload", mock.Anything, mock.Anything).Once().Return("t1", nil)
				m.On("Process", mock.Anything, "t1").Once().Return(testResult, nil)
			},
			historyErr: errors.New("disk full"),
			expEntry: func(t *testing.T, e model.HistoryEntry) {
				assert.Equal(t, model.TaskStatusCompleted, e.Status)
			},
			expStatus: model.TaskStatusCompleted,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			mb := &ocrmock.MockBackend{}
			test.mock(mb)

			var got model.HistoryEntry
			mh := &storagemock.MockHistoryRepository{}
			mh.On("SaveEntry", mock.Anything, mock.Anything).Once().Run(func(args mock.Arguments) {
				got = args.Get(1).(model.HistoryEntry)
			}).Return(test.historyErr)

			store, err := storagememory.NewTaskStore(storagememory.TaskStoreConfig{})
			require.NoError(t, err)
			svc, err := pipeline.NewService(pipeline.ServiceConfig{
				Store:   store,
				Backend: mb,
				History: mh,
			})
			require.NoError(t, err)

			store.Add(model.NewBytesSourceFile("A.pdf", []byte("%PDF")))
			require.True(t, svc.Start(context.Background(), 0))
			svc.Wait()

			mb.AssertExpectations(t)
			mh.AssertExpectations(t)
			test.expEntry(t, got)
			assert.Equal(t, test.expStatus, getTask(t, store, 0).Status)
		})
	}
}
