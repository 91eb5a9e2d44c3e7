package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRefresher struct {
	calls      atomic.Int32
	staleAfter atomic.Int64
	limit      atomic.Int32
	err        error
}

func (f *fakeRefresher) RefreshStale(ctx context.Context, staleAfter time.Duration, limit int) (int, error) {
	f.calls.Add(1)
	f.staleAfter.Store(int64(staleAfter))
	f.limit.Store(int32(limit))
	return 3, f.err
}

func TestNewSyncWorker_Defaults(t *testing.T) {
	_, err := NewSyncWorker(&SyncWorkerConfig{})
	assert.Error(t, err)

	_, err = NewSyncWorker(&SyncWorkerConfig{Refresher: &fakeRefresher{}, PollInterval: -time.Second})
	assert.Error(t, err)

	w, err := NewSyncWorker(&SyncWorkerConfig{Refresher: &fakeRefresher{}})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, w.pollInterval)
	assert.Equal(t, time.Hour, w.staleAfter)
	assert.Equal(t, 100, w.batchSize)
}

func TestSyncWorker_Poll(t *testing.T) {
	r := &fakeRefresher{}
	w, err := NewSyncWorker(&SyncWorkerConfig{Refresher: r, StaleAfter: 2 * time.Hour, BatchSize: 7})
	require.NoError(t, err)

	n, err := w.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.EqualValues(t, 2*time.Hour, r.staleAfter.Load())
	assert.EqualValues(t, 7, r.limit.Load())

	status := w.GetStatus()
	assert.Equal(t, 3, status.LastRefreshed)
	assert.Equal(t, 3, status.TotalRefreshed)
	assert.False(t, status.LastPollTime.IsZero())
}

func TestSyncWorker_StartStop(t *testing.T) {
	r := &fakeRefresher{err: errors.New("store down")}
	w, err := NewSyncWorker(&SyncWorkerConfig{Refresher: r, PollInterval: 5 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))
	assert.True(t, w.GetStatus().Running)

	// errors do not stop the loop
	assert.Eventually(t, func() bool { return r.calls.Load() >= 2 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))
	assert.False(t, w.GetStatus().Running)
	assert.Error(t, w.Stop(ctx))

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop(ctx))
}
