package events

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestBus_PublishDispatchesToHandlers(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var got []Event
	bus.Register(NewHandlerFunc([]string{MemberApprovedType}, func(e Event) error {
		got = append(got, e)
		return nil
	}))

	ev := NewMemberApprovedEvent("ws-1", uuid.New(), "carol", "editor", time.Now())
	bus.Publish(ev)

	assert.Len(t, got, 1)
	assert.Equal(t, MemberApprovedType, got[0].EventType())
}

func TestBus_HandlerErrorIsIsolated(t *testing.T) {
	bus := NewBus(zap.NewNop())

	calls := 0
	bus.Register(NewHandlerFunc([]string{MemberAddedType}, func(Event) error {
		return errors.New("boom")
	}))
	bus.Register(NewHandlerFunc([]string{MemberAddedType}, func(Event) error {
		calls++
		return nil
	}))

	bus.Publish(NewMemberAddedEvent("ws-1", uuid.New(), "alice", "owner", time.Now()))

	// The failing handler must not stop the second one.
	assert.Equal(t, 1, calls)
}

func TestBus_NoHandlersIsNoop(t *testing.T) {
	bus := NewBus(zap.NewNop())

	assert.NotPanics(t, func() {
		bus.Publish(NewMemberRemovedEvent("ws-1", uuid.New(), "bob"))
	})
}
