package security

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Kharon-pay-mini/user-management-server/internal/domain"
	"github.com/Kharon-pay-mini/user-management-server/internal/geo"
)

// --- fakes ---

type memoryLogs struct {
	mu        sync.Mutex
	entries   []domain.SecurityLog
	sumErr    error
	createErr error
}

func (m *memoryLogs) Create(_ context.Context, e *domain.SecurityLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	e.CreatedAt = time.Now().UTC()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memoryLogs) SumFailedAttempts(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sumErr != nil {
		return 0, m.sumErr
	}
	var sum int64
	for _, e := range m.entries {
		if e.UserID == userID {
			sum += int64(e.FailedLoginAttempts)
		}
	}
	return sum, nil
}

func (m *memoryLogs) Totals(context.Context, string) (int64, int64, error) { return 0, 0, nil }

func (m *memoryLogs) ListByUserID(context.Context, string, int, int) ([]domain.SecurityLog, error) {
	return nil, nil
}

func (m *memoryLogs) ListFlagged(context.Context, int, int) ([]domain.SecurityLog, error) {
	return nil, nil
}

func (m *memoryLogs) CountFlagged(context.Context) (int64, error) { return 0, nil }

func (m *memoryLogs) snapshot() []domain.SecurityLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.SecurityLog(nil), m.entries...)
}

type staticLocator struct {
	loc geo.Location
}

func (s staticLocator) Resolve(context.Context, string) geo.Location { return s.loc }

// gatedLocator blocks every Resolve until release is closed.
type gatedLocator struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedLocator) Resolve(ctx context.Context, _ string) geo.Location {
	g.started <- struct{}{}
	<-g.release
	return geo.Unknown()
}

type mockFlags struct {
	mock.Mock
}

func (m *mockFlags) PublishSecurityFlagged(ctx context.Context, entry *domain.SecurityLog, failed int64) error {
	args := m.Called(ctx, entry, failed)
	return args.Error(0)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var lagos = staticLocator{loc: geo.Location{City: "Lagos", Country: "NG"}}

func closeRecorder(t *testing.T, r *Recorder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))
}

// --- tests ---

func TestRecorder_SuccessEntry(t *testing.T) {
	logs := &memoryLogs{}
	r := NewRecorder(Config{Workers: 2, QueueSize: 8}, logs, lagos, nil, discardLogger())

	r.Record(context.Background(), Event{UserID: "u-1", IPAddress: "41.58.0.9", Outcome: OutcomeSuccess})
	closeRecorder(t, r)

	entries := logs.snapshot()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "u-1", e.UserID)
	assert.Equal(t, "41.58.0.9", e.IPAddress)
	assert.Equal(t, "Lagos", e.City)
	assert.Equal(t, "NG", e.Country)
	assert.Zero(t, e.FailedLoginAttempts)
	assert.False(t, e.FlaggedForReview)
	assert.NotEmpty(t, e.ID)
}

func TestRecorder_FlagsOnThirdFailure(t *testing.T) {
	logs := &memoryLogs{}
	flags := new(mockFlags)
	flags.On("PublishSecurityFlagged", mock.Anything, mock.MatchedBy(func(e *domain.SecurityLog) bool {
		return e.FlaggedForReview && e.UserID == "u-1"
	}), int64(3)).Return(nil).Once()

	r := NewRecorder(Config{Workers: 1, QueueSize: 8}, logs, lagos, flags, discardLogger())
	for i := 0; i < 3; i++ {
		r.Record(context.Background(), Event{UserID: "u-1", IPAddress: "41.58.0.9", Outcome: OutcomeFailure, Reason: "otp mismatch"})
	}
	closeRecorder(t, r)

	entries := logs.snapshot()
	require.Len(t, entries, 3)
	assert.False(t, entries[0].FlaggedForReview)
	assert.False(t, entries[1].FlaggedForReview)
	assert.True(t, entries[2].FlaggedForReview)
	for _, e := range entries {
		assert.Equal(t, 1, e.FailedLoginAttempts)
	}
	flags.AssertExpectations(t)
}

func TestRecorder_FailuresNeverDecay(t *testing.T) {
	logs := &memoryLogs{entries: []domain.SecurityLog{
		{UserID: "u-1", FailedLoginAttempts: 1, CreatedAt: time.Now().Add(-90 * 24 * time.Hour)},
		{UserID: "u-1", FailedLoginAttempts: 1, CreatedAt: time.Now().Add(-60 * 24 * time.Hour)},
		{UserID: "u-1", FailedLoginAttempts: 0, CreatedAt: time.Now().Add(-time.Hour)},
	}}
	r := NewRecorder(Config{Workers: 1, QueueSize: 4}, logs, lagos, nil, discardLogger())

	r.Record(context.Background(), Event{UserID: "u-1", Outcome: OutcomeFailure})
	closeRecorder(t, r)

	entries := logs.snapshot()
	require.Len(t, entries, 4)
	assert.True(t, entries[3].FlaggedForReview)
}

func TestRecorder_SuccessNeverFlags(t *testing.T) {
	logs := &memoryLogs{entries: []domain.SecurityLog{
		{UserID: "u-1", FailedLoginAttempts: 1},
		{UserID: "u-1", FailedLoginAttempts: 1},
		{UserID: "u-1", FailedLoginAttempts: 1},
	}}
	r := NewRecorder(Config{Workers: 1, QueueSize: 4}, logs, lagos, nil, discardLogger())

	r.Record(context.Background(), Event{UserID: "u-1", Outcome: OutcomeSuccess})
	closeRecorder(t, r)

	last := logs.snapshot()[3]
	assert.False(t, last.FlaggedForReview)
	assert.Zero(t, last.FailedLoginAttempts)
}

func TestRecorder_SumErrorWritesUnflagged(t *testing.T) {
	logs := &memoryLogs{sumErr: errors.New("statement timeout")}
	r := NewRecorder(Config{Workers: 1, QueueSize: 4}, logs, lagos, nil, discardLogger())

	r.Record(context.Background(), Event{UserID: "u-1", Outcome: OutcomeFailure})
	closeRecorder(t, r)

	entries := logs.snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].FailedLoginAttempts)
	assert.False(t, entries[0].FlaggedForReview)
}

func TestRecorder_CreateErrorIsSwallowed(t *testing.T) {
	logs := &memoryLogs{createErr: errors.New("disk full")}
	flags := new(mockFlags)
	r := NewRecorder(Config{Workers: 1, QueueSize: 4}, logs, lagos, flags, discardLogger())

	r.Record(context.Background(), Event{UserID: "u-1", Outcome: OutcomeFailure})
	closeRecorder(t, r)

	assert.Empty(t, logs.snapshot())
	flags.AssertNotCalled(t, "PublishSecurityFlagged", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecorder_PublishErrorIsSwallowed(t *testing.T) {
	logs := &memoryLogs{entries: []domain.SecurityLog{
		{UserID: "u-1", FailedLoginAttempts: 1},
		{UserID: "u-1", FailedLoginAttempts: 1},
	}}
	flags := new(mockFlags)
	flags.On("PublishSecurityFlagged", mock.Anything, mock.Anything, int64(3)).Return(errors.New("broker down")).Once()

	r := NewRecorder(Config{Workers: 1, QueueSize: 4}, logs, lagos, flags, discardLogger())
	r.Record(context.Background(), Event{UserID: "u-1", Outcome: OutcomeFailure})
	closeRecorder(t, r)

	assert.Len(t, logs.snapshot(), 3)
	flags.AssertExpectations(t)
}

func TestRecorder_EmptyIPStoredAsUnknown(t *testing.T) {
	logs := &memoryLogs{}
	r := NewRecorder(Config{Workers: 1, QueueSize: 4}, logs, staticLocator{loc: geo.Unknown()}, nil, discardLogger())

	r.Record(context.Background(), Event{UserID: "u-1", Outcome: OutcomeSuccess})
	closeRecorder(t, r)

	e := logs.snapshot()[0]
	assert.Equal(t, "unknown", e.IPAddress)
	assert.Equal(t, "unknown", e.City)
	assert.Equal(t, "unknown", e.Country)
}

func TestRecorder_DropsWhenQueueFull(t *testing.T) {
	logs := &memoryLogs{}
	gate := &gatedLocator{started: make(chan struct{}, 1), release: make(chan struct{})}
	r := NewRecorder(Config{Workers: 1, QueueSize: 1}, logs, gate, nil, discardLogger())

	r.Record(context.Background(), Event{UserID: "u-1", Outcome: OutcomeSuccess})
	<-gate.started // the only worker is now busy

	r.Record(context.Background(), Event{UserID: "u-2", Outcome: OutcomeSuccess}) // fills the queue

	done := make(chan struct{})
	go func() {
		r.Record(context.Background(), Event{UserID: "u-3", Outcome: OutcomeSuccess})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}
	assert.Equal(t, uint64(1), r.Dropped())

	go func() {
		for range gate.started {
		}
	}()
	close(gate.release)
	closeRecorder(t, r)
	close(gate.started)

	entries := logs.snapshot()
	require.Len(t, entries, 2)
	users := []string{entries[0].UserID, entries[1].UserID}
	assert.ElementsMatch(t, []string{"u-1", "u-2"}, users)
}

func TestRecorder_IgnoresEventsAfterClose(t *testing.T) {
	logs := &memoryLogs{}
	r := NewRecorder(Config{Workers: 2, QueueSize: 4}, logs, lagos, nil, discardLogger())
	closeRecorder(t, r)

	r.Record(context.Background(), Event{UserID: "u-1", Outcome: OutcomeSuccess})
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, logs.snapshot())
	assert.Zero(t, r.Dropped())
	require.NoError(t, r.Close(context.Background()))
}

func TestRecorder_CloseDrainsQueue(t *testing.T) {
	logs := &memoryLogs{}
	r := NewRecorder(Config{Workers: 4, QueueSize: 256}, logs, lagos, nil, discardLogger())

	for i := 0; i < 200; i++ {
		r.Record(context.Background(), Event{UserID: "u-1", Outcome: OutcomeSuccess})
	}
	closeRecorder(t, r)

	assert.Len(t, logs.snapshot(), 200-int(r.Dropped()))
	assert.Zero(t, r.Dropped())
}

func TestRecorder_CloseHonoursDeadline(t *testing.T) {
	gate := &gatedLocator{started: make(chan struct{}, 1), release: make(chan struct{})}
	r := NewRecorder(Config{Workers: 1, QueueSize: 1}, &memoryLogs{}, gate, nil, discardLogger())

	r.Record(context.Background(), Event{UserID: "u-1", Outcome: OutcomeSuccess})
	<-gate.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Close(ctx), context.DeadlineExceeded)

	close(gate.release)
	closeRecorder(t, r)
}

func TestRecorder_KeepsRequestValuesAfterCancel(t *testing.T) {
	logs := &memoryLogs{}
	r := NewRecorder(Config{Workers: 1, QueueSize: 4}, logs, lagos, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	r.Record(ctx, Event{UserID: "u-1", Outcome: OutcomeFailure})
	cancel()
	closeRecorder(t, r)

	assert.Len(t, logs.snapshot(), 1)
}
