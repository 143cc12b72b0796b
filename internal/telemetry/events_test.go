package telemetry

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-engine/internal/mocks"
)

func TestEventEmitterWrapsPayload(t *testing.T) {
	pub := new(mocks.PublisherMock)
	emitter := NewEventEmitter(pub, "chat.", "chat-engine", "test", slog.Default())

	pub.On("Publish", mock.Anything, "chat.message.created", mock.MatchedBy(func(env Envelope) bool {
		return env.SchemaVersion == 1 &&
			env.EventType == "message.created" &&
			env.Service == "chat-engine" &&
			env.Environment == "test" &&
			env.OccurredAt != "" &&
			env.Payload.(map[string]any)["message_id"] == 7
	})).Return(nil).Once()

	emitter.Emit(context.Background(), "message.created", map[string]any{"message_id": 7})
	pub.AssertExpectations(t)
}

func TestEventEmitterSwallowsPublishErrors(t *testing.T) {
	pub := new(mocks.PublisherMock)
	emitter := NewEventEmitter(pub, "", "chat-engine", "test", slog.Default())
	pub.On("Publish", mock.Anything, "participant.left", mock.Anything).Return(assert.AnError).Once()

	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), "participant.left", nil)
	})
	pub.AssertExpectations(t)
}

func TestNilEmitterIsSafe(t *testing.T) {
	var emitter *EventEmitter
	assert.NotPanics(t, func() { emitter.Emit(context.Background(), "x", nil) })
}

func TestEventEmitterPublishesInBackground(t *testing.T) {
	pub := new(mocks.PublisherMock)
	emitter := NewEventEmitter(pub, "chat", "chat-engine", "test", slog.Default())
	emitter.Start(8)

	release := make(chan time.Time)
	pub.On("Publish", mock.Anything, "chat.message.created", mock.Anything).
		WaitUntil(release).Return(nil).Times(3)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			emitter.Emit(context.Background(), "message.created", map[string]any{"message_id": i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit waited on the broker")
	}

	close(release)
	require.NoError(t, emitter.Close(context.Background()))
	pub.AssertNumberOfCalls(t, "Publish", 3)
}

func TestEventEmitterDropsWhenQueueFull(t *testing.T) {
	pub := new(mocks.PublisherMock)
	emitter := NewEventEmitter(pub, "", "chat-engine", "test", slog.Default())
	emitter.Start(1)

	release := make(chan time.Time)
	pub.On("Publish", mock.Anything, "message.created", mock.Anything).WaitUntil(release).Return(nil)

	for i := 0; i < 10; i++ {
		emitter.Emit(context.Background(), "message.created", nil)
	}
	close(release)
	require.NoError(t, emitter.Close(context.Background()))

	calls := len(pub.Calls)
	assert.GreaterOrEqual(t, calls, 1)
	assert.LessOrEqual(t, calls, 2)

	emitter.Emit(context.Background(), "message.created", nil)
	assert.Len(t, pub.Calls, calls)
}
