package history_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/ocrtrack/internal/app/history"
	"github.com/slok/ocrtrack/internal/model"
	"github.com/slok/ocrtrack/internal/ocr/ocrmock"
	"github.com/slok/ocrtrack/internal/storage/storagemock"
)

func TestNewService(t *testing.T) {
	_, err := history.NewService(history.ServiceConfig{})
	assert.Error(t, err)

	svc, err := history.NewService(history.ServiceConfig{Repository: &storagemock.MockHistoryRepository{}})
	assert.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestServiceList(t *testing.T) {
	entries := []model.HistoryEntry{{LocalID: "l2"}, {LocalID: "l1"}}

	tests := map[string]struct {
		mock       func(m *storagemock.MockHistoryRepository)
		req        history.ListRequest
		expEntries []model.HistoryEntry
		expErr     error
	}{
		"Listing should return the repository entries.": {
			mock: func(m *storagemock.MockHistoryRepository) {
				m.On("ListEntries", mock.Anything, model.HistoryFilter{Limit: 10}).Once().Return(entries, nil)
			},
			req:        history.ListRequest{Limit: 10},
			expEntries: entries,
		},

		"Listing by a finished status should filter.": {
			mock: func(m *storagemock.MockHistoryRepository) {
				m.On("ListEntries", mock.Anything, model.HistoryFilter{Status: model.TaskStatusFailed}).Once().Return(entries[:1], nil)
			},
			req:        history.ListRequest{Status: model.TaskStatusFailed},
			expEntries: entries[:1],
		},

		"Listing by a not finished status should fail.": {
			mock:   func(m *storagemock.MockHistoryRepository) {},
			req:    history.ListRequest{Status: model.TaskStatusProcessing},
			expErr: model.ErrNotValid,
		},

		"A negative limit should fail.": {
			mock:   func(m *storagemock.MockHistoryRepository) {},
			req:    history.ListRequest{Limit: -1},
			expErr: model.ErrNotValid,
		},

		"A repository error should fail.": {
			mock: func(m *storagemock.MockHistoryRepository) {
				m.On("ListEntries", mock.Anything, mock.Anything).Once().Return(nil, errors.New("database is locked"))
			},
			expErr: errors.New("database is locked"),
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			m := &storagemock.MockHistoryRepository{}
			test.mock(m)

			svc, err := history.NewService(history.ServiceConfig{Repository: m})
			require.NoError(t, err)

			got, err := svc.List(context.Background(), test.req)
			if test.expErr != nil {
				if errors.Is(test.expErr, model.ErrNotValid) {
					assert.ErrorIs(err, model.ErrNotValid)
				} else {
					assert.ErrorContains(err, test.expErr.Error())
				}
			} else if assert.NoError(err) {
				assert.Equal(test.expEntries, got)
			}

			m.AssertExpectations(t)
		})
	}
}

func TestServicePrune(t *testing.T) {
	now := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)

	tests := map[string]struct {
		mock   func(m *storagemock.MockHistoryRepository)
		req    history.PruneRequest
		expN   int64
		expErr bool
	}{
		"Pruning should delete the entries older than the age.": {
			mock: func(m *storagemock.MockHistoryRepository) {
				m.On("DeleteEntriesBefore", mock.Anything, now.Add(-24*time.Hour)).Once().Return(int64(3), nil)
			},
			req:  history.PruneRequest{OlderThan: 24 * time.Hour},
			expN: 3,
		},

		"A zero age should fail.": {
			mock:   func(m *storagemock.MockHistoryRepository) {},
			req:    history.PruneRequest{},
			expErr: true,
		},

		"A repository error should fail.": {
			mock: func(m *storagemock.MockHistoryRepository) {
				m.On("DeleteEntriesBefore", mock.Anything, mock.Anything).Once().Return(int64(0), errors.New("boom"))
			},
			req:    history.PruneRequest{OlderThan: time.Hour},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			m := &storagemock.MockHistoryRepository{}
			test.mock(m)

			svc, err := history.NewService(history.ServiceConfig{
				Repository:  m,
				TimeNowFunc: func() time.Time { return now },
			})
			require.NoError(t, err)

			n, err := svc.Prune(context.Background(), test.req)
			if test.expErr {
				assert.Error(err)
			} else if assert.NoError(err) {
				assert.Equal(test.expN, n)
			}

			m.AssertExpectations(t)
		})
	}
}

func TestServiceListRemote(t *testing.T) {
	page := &model.RemoteHistory{
		Tasks: []model.RemoteTask{{ID: "t2", Status: model.RemoteStatusCompleted}},
		Total: 5,
	}

	tests := map[string]struct {
		noRemote bool
		mock     func(m *ocrmock.MockHistoryClient)
		req      history.ListRemoteRequest
		expPage  *model.RemoteHistory
		expErr   error
	}{
		"Listing should return the service page.": {
			mock: func(m *ocrmock.MockHistoryClient) {
				exp := model.RemoteHistoryQuery{Skip: 1, Limit: 1, Status: model.RemoteStatusCompleted}
				m.On("ListHistory", mock.Anything, exp).Once().Return(page, nil)
			},
			req:     history.ListRemoteRequest{Skip: 1, Limit: 1, Status: model.RemoteStatusCompleted},
			expPage: page,
		},

		"An invalid page should fail.": {
			mock:   func(m *ocrmock.MockHistoryClient) {},
			req:    history.ListRemoteRequest{Skip: -1},
			expErr: model.ErrNotValid,
		},

		"Without remote history it should fail.": {
			noRemote: true,
			mock:     func(m *ocrmock.MockHistoryClient) {},
			expErr:   model.ErrNotValid,
		},

		"A service error should fail.": {
			mock: func(m *ocrmock.MockHistoryClient) {
				m.On("ListHistory", mock.Anything, mock.Anything).Once().Return(nil, model.ErrNotAuthenticated)
			},
			expErr: model.ErrNotAuthenticated,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			m := &ocrmock.MockHistoryClient{}
			test.mock(m)

			cfg := history.ServiceConfig{Repository: &storagemock.MockHistoryRepository{}}
			if !test.noRemote {
				cfg.Remote = m
			}
			svc, err := history.NewService(cfg)
			require.NoError(t, err)

			got, err := svc.ListRemote(context.Background(), test.req)
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
			} else if assert.NoError(err) {
				assert.Equal(test.expPage, got)
			}

			m.AssertExpectations(t)
		})
	}
}

func TestServiceRemove(t *testing.T) {
	tests := map[string]struct {
		noRemote   bool
		mockRepo   func(m *storagemock.MockHistoryRepository)
		mockRemote func(m *ocrmock.MockHistoryClient)
		req        history.RemoveRequest
		expResp    *history.RemoveResponse
		expErr     error
	}{
		"Removing should delete the local and remote history.": {
			mockRepo: func(m *storagemock.MockHistoryRepository) {
				m.On("DeleteEntries", mock.Anything, "t1").Once().Return(int64(2), nil)
			},
			mockRemote: func(m *ocrmock.MockHistoryClient) {
				m.On("DeleteHistory", mock.Anything, "t1").Once().Return(nil)
			},
			req:     history.RemoveRequest{TaskID: " t1 "},
			expResp: &history.RemoveResponse{LocalDeleted: 2, RemoteDeleted: true},
		},

		"A task only in the remote history should be removed.": {
			mockRepo: func(m *storagemock.MockHistoryRepository) {
				m.On("DeleteEntries", mock.Anything, "t1").Once().Return(int64(0), nil)
			},
			mockRemote: func(m *ocrmock.MockHistoryClient) {
				m.On("DeleteHistory", mock.Anything, "t1").Once().Return(nil)
			},
			req:     history.RemoveRequest{TaskID: "t1"},
			expResp: &history.RemoveResponse{RemoteDeleted: true},
		},

		"A task only in the local history should be removed.": {
			mockRepo: func(m *storagemock.MockHistoryRepository) {
				m.On("DeleteEntries", mock.Anything, "t1").Once().Return(int64(1), nil)
			},
			mockRemote: func(m *ocrmock.MockHistoryClient) {
				m.On("DeleteHistory", mock.Anything, "t1").Once().Return(model.ErrNotFound)
			},
			req:     history.RemoveRequest{TaskID: "t1"},
			expResp: &history.RemoveResponse{LocalDeleted: 1},
		},

		"Local only removal should not call the service.": {
			mockRepo: func(m *storagemock.MockHistoryRepository) {
				m.On("DeleteEntries", mock.Anything, "t1").Once().Return(int64(1), nil)
			},
			mockRemote: func(m *ocrmock.MockHistoryClient) {},
			req:        history.RemoveRequest{TaskID: "t1", LocalOnly: true},
			expResp:    &history.RemoveResponse{LocalDeleted: 1},
		},

		"A task in neither history should fail with not found.": {
			mockRepo: func(m *storagemock.MockHistoryRepository) {
				m.On("DeleteEntries", mock.Anything, "t1").Once().Return(int64(0), nil)
			},
			mockRemote: func(m *ocrmock.MockHistoryClient) {
				m.On("DeleteHistory", mock.Anything, "t1").Once().Return(model.ErrNotFound)
			},
			req:    history.RemoveRequest{TaskID: "t1"},
			expErr: model.ErrNotFound,
		},

		"Without remote history a missing local task should fail with not found.": {
			noRemote: true,
			mockRepo: func(m *storagemock.MockHistoryRepository) {
				m.On("DeleteEntries", mock.Anything, "t1").Once().Return(int64(0), nil)
			},
			mockRemote: func(m *ocrmock.MockHistoryClient) {},
			req:        history.RemoveRequest{TaskID: "t1"},
			expErr:     model.ErrNotFound,
		},

		"A remote error should fail.": {
			mockRepo: func(m *storagemock.MockHistoryRepository) {
				m.On("DeleteEntries", mock.Anything, "t1").Once().Return(int64(1), nil)
			},
			mockRemote: func(m *ocrmock.MockHistoryClient) {
				m.On("DeleteHistory", mock.Anything, "t1").Once().Return(model.ErrNotAuthenticated)
			},
			req:    history.RemoveRequest{TaskID: "t1"},
			expErr: model.ErrNotAuthenticated,
		},

		"A missing task ID should fail.": {
			mockRepo:   func(m *storagemock.MockHistoryRepository) {},
			mockRemote: func(m *ocrmock.MockHistoryClient) {},
			req:        history.RemoveRequest{TaskID: " "},
			expErr:     model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			mr := &storagemock.MockHistoryRepository{}
			test.mockRepo(mr)
			mc := &ocrmock.MockHistoryClient{}
			test.mockRemote(mc)

			cfg := history.ServiceConfig{Repository: mr}
			if !test.noRemote {
				cfg.Remote = mc
			}
			svc, err := history.NewService(cfg)
			require.NoError(t, err)

			got, err := svc.Remove(context.Background(), test.req)
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
			} else if assert.NoError(err) {
				assert.Equal(test.expResp, got)
			}

			mr.AssertExpectations(t)
			mc.AssertExpectations(t)
		})
	}
}
