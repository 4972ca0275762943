package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"form-webhook-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockSyncAPI struct {
	mock.Mock
}

func (m *MockSyncAPI) GetUnprocessed(ctx context.Context, limit int) ([]models.Record, error) {
	args := m.Called(ctx, limit)
	records, _ := args.Get(0).([]models.Record)
	return records, args.Error(1)
}

func (m *MockSyncAPI) MarkProcessed(ctx context.Context, ids []string) (int, error) {
	args := m.Called(ctx, ids)
	return args.Int(0), args.Error(1)
}

type MockSink struct {
	mock.Mock
}

func (m *MockSink) UpsertRecord(ctx context.Context, rec models.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockSink) UpdateStatus(ctx context.Context, ids []string, status models.SyncStatus) error {
	args := m.Called(ctx, ids, status)
	return args.Error(0)
}

func records(ids ...string) []models.Record {
	out := make([]models.Record, len(ids))
	for i, id := range ids {
		out[i] = models.Record{ID: id, FormID: "7"}
	}
	return out
}

func TestSyncOnceStoresThenMarks(t *testing.T) {
	api := new(MockSyncAPI)
	sink := new(MockSink)
	api.On("GetUnprocessed", mock.Anything, 2).Return(records("a", "b"), nil).Once()
	api.On("GetUnprocessed", mock.Anything, 2).Return(records("c"), nil).Once()
	sink.On("UpsertRecord", mock.Anything, mock.Anything).Return(nil)
	api.On("MarkProcessed", mock.Anything, []string{"a", "b"}).Return(2, nil).Once()
	api.On("MarkProcessed", mock.Anything, []string{"c"}).Return(1, nil).Once()
	sink.On("UpdateStatus", mock.Anything, mock.Anything, models.SyncStatusProcessed).Return(nil)

	w := NewWorker(api, sink, zap.NewNop(), 2, time.Minute)
	n, err := w.SyncOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	api.AssertExpectations(t)
	sink.AssertNumberOfCalls(t, "UpsertRecord", 3)
}

func TestSyncOnceEmptyQueue(t *testing.T) {
	api := new(MockSyncAPI)
	sink := new(MockSink)
	api.On("GetUnprocessed", mock.Anything, 50).Return([]models.Record{}, nil)

	w := NewWorker(api, sink, zap.NewNop(), 0, 0)
	n, err := w.SyncOnce(context.Background())

	require.NoError(t, err)
	assert.Zero(t, n)
	api.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything)
}

func TestSyncOnceMarksOnlyStoredRecords(t *testing.T) {
	api := new(MockSyncAPI)
	sink := new(MockSink)
	api.On("GetUnprocessed", mock.Anything, 10).Return(records("a", "b"), nil).Once()
	sink.On("UpsertRecord", mock.Anything, models.Record{ID: "a", FormID: "7"}).Return(errors.New("write conflict"))
	sink.On("UpsertRecord", mock.Anything, models.Record{ID: "b", FormID: "7"}).Return(nil)
	api.On("MarkProcessed", mock.Anything, []string{"b"}).Return(1, nil).Once()
	sink.On("UpdateStatus", mock.Anything, []string{"b"}, models.SyncStatusProcessed).Return(nil)

	w := NewWorker(api, sink, zap.NewNop(), 10, time.Minute)
	n, err := w.SyncOnce(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "record a")
	assert.Equal(t, 1, n)
	api.AssertExpectations(t)
}

func TestSyncOnceNothingStored(t *testing.T) {
	api := new(MockSyncAPI)
	sink := new(MockSink)
	api.On("GetUnprocessed", mock.Anything, 10).Return(records("a"), nil).Once()
	sink.On("UpsertRecord", mock.Anything, mock.Anything).Return(errors.New("sink down"))

	w := NewWorker(api, sink, zap.NewNop(), 10, time.Minute)
	_, err := w.SyncOnce(context.Background())

	assert.ErrorContains(t, err, "failed to store any record")
	api.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything)
}

func TestSyncOncePullError(t *testing.T) {
	api := new(MockSyncAPI)
	api.On("GetUnprocessed", mock.Anything, 10).Return(nil, errors.New("connection refused"))

	w := NewWorker(api, new(MockSink), zap.NewNop(), 10, time.Minute)
	_, err := w.SyncOnce(context.Background())

	assert.ErrorContains(t, err, "failed to pull records")
}

func TestSyncWithRetryStopsAfterMaxRetries(t *testing.T) {
	api := new(MockSyncAPI)
	api.On("GetUnprocessed", mock.Anything, 10).Return(nil, errors.New("unavailable"))

	w := NewWorker(api, new(MockSink), zap.NewNop(), 10, time.Minute)
	w.baseDelay = time.Millisecond
	w.syncWithRetry(context.Background())

	api.AssertNumberOfCalls(t, "GetUnprocessed", 3)
}

func TestRunSyncsOnNotice(t *testing.T) {
	api := new(MockSyncAPI)
	sink := new(MockSink)
	synced := make(chan struct{}, 4)
	api.On("GetUnprocessed", mock.Anything, 10).Return([]models.Record{}, nil).
		Run(func(mock.Arguments) { synced <- struct{}{} })

	w := NewWorker(api, sink, zap.NewNop(), 10, time.Hour)
	notices := make(chan models.SubmissionNotice, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx, notices)
		close(done)
	}()

	<-synced
	notices <- models.SubmissionNotice{SubmissionID: "sub_1"}
	select {
	case <-synced:
	case <-time.After(2 * time.Second):
		t.Fatal("notice did not trigger a sync")
	}
	cancel()
	<-done
}

func TestCalculateBackoff(t *testing.T) {
	w := NewWorker(nil, nil, zap.NewNop(), 1, time.Minute)
	for retry := 1; retry <= 3; retry++ {
		ceiling := w.baseDelay * time.Duration(1<<(retry-1))
		got := w.calculateBackoff(retry)
		assert.GreaterOrEqual(t, got, ceiling/2)
		assert.LessOrEqual(t, got, ceiling)
	}
}
