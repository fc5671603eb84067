package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"chat-core/internal/delivery"
	"chat-core/internal/mocks"
	"chat-core/internal/models"
	"chat-core/internal/repositories"
)

type delivererMock struct {
	mock.Mock
}

func (m *delivererMock) DispatchClaimed(ctx context.Context, msg models.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func newTestDispatcher(store *mocks.MessageRepositoryMock, deliverer *delivererMock, batchSize int) *Dispatcher {
	return NewDispatcher(store, deliverer, time.Second, batchSize, zerolog.Nop())
}

func TestTickDispatchesUntilNoneDue(t *testing.T) {
	store := new(mocks.MessageRepositoryMock)
	deliverer := new(delivererMock)
	d := newTestDispatcher(store, deliverer, 50)

	msg1 := models.Message{ID: 1, Status: models.StatusSent}
	msg2 := models.Message{ID: 2, Status: models.StatusSent}
	store.On("ClaimDue", mock.Anything, mock.Anything).Return(msg1, nil).Once()
	store.On("ClaimDue", mock.Anything, mock.Anything).Return(msg2, nil).Once()
	store.On("ClaimDue", mock.Anything, mock.Anything).Return(models.Message{}, repositories.ErrNoneDue).Once()
	deliverer.On("DispatchClaimed", mock.Anything, msg1).Return(nil).Once()
	deliverer.On("DispatchClaimed", mock.Anything, msg2).Return(nil).Once()

	d.Tick(context.Background())

	store.AssertExpectations(t)
	deliverer.AssertExpectations(t)
}

func TestTickHonorsBatchCeiling(t *testing.T) {
	store := new(mocks.MessageRepositoryMock)
	deliverer := new(delivererMock)
	d := newTestDispatcher(store, deliverer, 2)

	store.On("ClaimDue", mock.Anything, mock.Anything).Return(models.Message{ID: 1}, nil).Once()
	store.On("ClaimDue", mock.Anything, mock.Anything).Return(models.Message{ID: 2}, nil).Once()
	deliverer.On("DispatchClaimed", mock.Anything, mock.Anything).Return(nil).Twice()

	d.Tick(context.Background())

	// The third due message waits for the next tick.
	store.AssertNumberOfCalls(t, "ClaimDue", 2)
}

func TestDispatchErrorCancelsMessage(t *testing.T) {
	store := new(mocks.MessageRepositoryMock)
	deliverer := new(delivererMock)
	d := newTestDispatcher(store, deliverer, 50)

	msg := models.Message{ID: 9, Status: models.StatusSent}
	store.On("ClaimDue", mock.Anything, mock.Anything).Return(msg, nil).Once()
	store.On("ClaimDue", mock.Anything, mock.Anything).Return(models.Message{}, repositories.ErrNoneDue).Once()
	deliverer.On("DispatchClaimed", mock.Anything, msg).Return(assert.AnError).Once()
	store.On("MarkCancelled", mock.Anything, 9).Return(nil).Once()

	d.Tick(context.Background())

	store.AssertExpectations(t)
}

func TestDispatchBlockedCancelsMessage(t *testing.T) {
	store := new(mocks.MessageRepositoryMock)
	deliverer := new(delivererMock)
	d := newTestDispatcher(store, deliverer, 50)

	msg := models.Message{ID: 9, Status: models.StatusSent}
	store.On("ClaimDue", mock.Anything, mock.Anything).Return(msg, nil).Once()
	store.On("ClaimDue", mock.Anything, mock.Anything).Return(models.Message{}, repositories.ErrNoneDue).Once()
	deliverer.On("DispatchClaimed", mock.Anything, msg).Return(delivery.ErrBlocked).Once()
	store.On("MarkCancelled", mock.Anything, 9).Return(nil).Once()

	d.Tick(context.Background())

	store.AssertExpectations(t)
}

func TestDispatchPanicCancelsMessage(t *testing.T) {
	store := new(mocks.MessageRepositoryMock)
	deliverer := new(delivererMock)
	d := newTestDispatcher(store, deliverer, 50)

	msg := models.Message{ID: 9, Status: models.StatusSent}
	store.On("ClaimDue", mock.Anything, mock.Anything).Return(msg, nil).Once()
	store.On("ClaimDue", mock.Anything, mock.Anything).Return(models.Message{}, repositories.ErrNoneDue).Once()
	deliverer.On("DispatchClaimed", mock.Anything, msg).Run(func(mock.Arguments) {
		panic("boom")
	}).Return(nil).Once()
	store.On("MarkCancelled", mock.Anything, 9).Return(nil).Once()

	d.Tick(context.Background())

	store.AssertExpectations(t)
}

// contestedStore hands out each pending message exactly once, the way the
// conditional claim in Postgres admits a single winner per row.
type contestedStore struct {
	mu        sync.Mutex
	pending   []models.Message
	cancelled []int
}

func (s *contestedStore) ClaimDue(ctx context.Context, now time.Time) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return models.Message{}, repositories.ErrNoneDue
	}
	msg := s.pending[0]
	s.pending = s.pending[1:]
	msg.Status = models.StatusSent
	return msg, nil
}

func (s *contestedStore) MarkCancelled(ctx context.Context, messageID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, messageID)
	return nil
}

type countingDeliverer struct {
	calls atomic.Int32
}

func (d *countingDeliverer) DispatchClaimed(ctx context.Context, msg models.Message) error {
	d.calls.Add(1)
	return nil
}

func TestConcurrentClaimersDispatchOnce(t *testing.T) {
	store := &contestedStore{pending: []models.Message{{ID: 7, Status: models.StatusScheduled}}}
	deliverer := &countingDeliverer{}

	// Separate dispatchers model separate processes: the in-flight guard is
	// per instance, so only the store arbitrates who wins the row.
	const claimers = 8
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		d := NewDispatcher(store, deliverer, time.Second, 50, zerolog.Nop())
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			d.Tick(context.Background())
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, deliverer.calls.Load())
	assert.Empty(t, store.cancelled)
}

func TestOverlappingTickYields(t *testing.T) {
	store := new(mocks.MessageRepositoryMock)
	deliverer := new(delivererMock)
	d := newTestDispatcher(store, deliverer, 50)

	started := make(chan struct{})
	release := make(chan struct{})
	msg := models.Message{ID: 1, Status: models.StatusSent}
	store.On("ClaimDue", mock.Anything, mock.Anything).Return(msg, nil).Once()
	store.On("ClaimDue", mock.Anything, mock.Anything).Return(models.Message{}, repositories.ErrNoneDue).Once()
	deliverer.On("DispatchClaimed", mock.Anything, msg).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(nil).Once()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.Tick(context.Background())
	}()
	<-started

	// The overlapping tick must return without claiming anything.
	d.Tick(context.Background())

	close(release)
	wg.Wait()

	deliverer.AssertNumberOfCalls(t, "DispatchClaimed", 1)
	store.AssertNumberOfCalls(t, "ClaimDue", 2)
}
