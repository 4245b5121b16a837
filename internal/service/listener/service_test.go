package listener

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

	"github.com/dakota002/gcn.nasa.gov/internal/domain/entity"
	"github.com/dakota002/gcn.nasa.gov/pkg/logger"
)

// fakeSource hands out one prepared channel per Listen call
type fakeSource struct {
	mu      sync.Mutex
	streams []chan entity.EventBatch
	calls   int
}

func (f *fakeSource) Listen(ctx context.Context) <-chan entity.EventBatch {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if len(f.streams) == 0 {
		ch := make(chan entity.EventBatch)
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		return ch
	}
	ch := f.streams[0]
	f.streams = f.streams[1:]
	return ch
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// MockBatchHandler is a mock implementation of BatchHandler
type MockBatchHandler struct {
	mock.Mock
	handled atomic.Int32
}

func (m *MockBatchHandler) HandleBatch(ctx context.Context, events []entity.IncomingEvent) error {
	defer m.handled.Add(1)
	args := m.Called(ctx, events)
	return args.Error(0)
}

func events(keys ...string) []entity.IncomingEvent {
	out := make([]entity.IncomingEvent, len(keys))
	for i, k := range keys {
		out[i] = entity.IncomingEvent{Bucket: "inbox", Key: k, EventName: "s3:ObjectCreated:Put"}
	}
	return out
}

func TestNewService(t *testing.T) {
	svc := NewService(&fakeSource{}, &MockBatchHandler{}, Config{Enabled: true}, logger.NewNop())

	assert.NotNil(t, svc)
	assert.True(t, svc.enabled)
	assert.Equal(t, 5*time.Second, svc.reconnectDelay)
}

func TestStart_Disabled(t *testing.T) {
	source := &fakeSource{}
	svc := NewService(source, &MockBatchHandler{}, Config{Enabled: false}, logger.NewNop())

	require.NoError(t, svc.Start(context.Background()))
	svc.Stop()

	assert.Zero(t, source.Calls())
}

func TestService_DispatchesBatches(t *testing.T) {
	stream := make(chan entity.EventBatch, 3)
	stream <- entity.EventBatch{Events: events("a", "b")}
	stream <- entity.EventBatch{Err: errors.New("listen failed")}
	stream <- entity.EventBatch{Events: events("c")}

	handler := &MockBatchHandler{}
	handler.On("HandleBatch", mock.Anything, events("a", "b")).Return(nil)
	handler.On("HandleBatch", mock.Anything, events("c")).Return(errors.New("batch b1: 1 item(s) failed"))

	svc := NewService(&fakeSource{streams: []chan entity.EventBatch{stream}}, handler,
		Config{Enabled: true, ReconnectDelay: time.Hour}, logger.NewNop())
	require.NoError(t, svc.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return handler.handled.Load() == 2
	}, time.Second, 5*time.Millisecond)

	svc.Stop()
	handler.AssertExpectations(t)
}

func TestService_ReconnectsAfterStreamCloses(t *testing.T) {
	first := make(chan entity.EventBatch, 1)
	first <- entity.EventBatch{Err: errors.New("connection reset")}
	close(first)

	second := make(chan entity.EventBatch, 1)
	second <- entity.EventBatch{Events: events("after-reconnect")}

	source := &fakeSource{streams: []chan entity.EventBatch{first, second}}
	handler := &MockBatchHandler{}
	handler.On("HandleBatch", mock.Anything, events("after-reconnect")).Return(nil)

	svc := NewService(source, handler, Config{Enabled: true, ReconnectDelay: 10 * time.Millisecond}, logger.NewNop())
	require.NoError(t, svc.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return source.Calls() >= 2 && handler.handled.Load() == 1
	}, time.Second, 5*time.Millisecond)

	svc.Stop()
	handler.AssertExpectations(t)
}

func TestService_StopsOnContextCancel(t *testing.T) {
	source := &fakeSource{}
	handler := &MockBatchHandler{}
	svc := NewService(source, handler, Config{Enabled: true, ReconnectDelay: time.Hour}, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Start(ctx))
	cancel()

	done := make(chan struct{})
	go func() {
		svc.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
	handler.AssertNotCalled(t, "HandleBatch", mock.Anything, mock.Anything)
}

func TestService_StopTwice(t *testing.T) {
	svc := NewService(&fakeSource{}, &MockBatchHandler{}, Config{Enabled: true}, logger.NewNop())
	require.NoError(t, svc.Start(context.Background()))

	svc.Stop()
	svc.Stop()
}

func TestService_RestartAfterStop(t *testing.T) {
	first := make(chan entity.EventBatch, 1)
	first <- entity.EventBatch{Events: events("before-stop")}
	second := make(chan entity.EventBatch, 1)
	second <- entity.EventBatch{Events: events("after-restart")}

	source := &fakeSource{streams: []chan entity.EventBatch{first, second}}
	handler := &MockBatchHandler{}
	handler.On("HandleBatch", mock.Anything, events("before-stop")).Return(nil)
	handler.On("HandleBatch", mock.Anything, events("after-restart")).Return(nil)

	svc := NewService(source, handler, Config{Enabled: true, ReconnectDelay: time.Hour}, logger.NewNop())

	require.NoError(t, svc.Start(context.Background()))
	assert.Eventually(t, func() bool { return handler.handled.Load() == 1 }, time.Second, 5*time.Millisecond)
	svc.Stop()

	require.NoError(t, svc.Start(context.Background()))
	assert.Eventually(t, func() bool { return handler.handled.Load() == 2 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		svc.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after restart")
	}
	handler.AssertExpectations(t)
}

func TestDispatch_SkipsEmptyBatch(t *testing.T) {
	handler := &MockBatchHandler{}
	svc := NewService(&fakeSource{}, handler, Config{Enabled: true}, logger.NewNop())

	svc.dispatch(context.Background(), entity.EventBatch{})

	handler.AssertNotCalled(t, "HandleBatch", mock.Anything, mock.Anything)
}
