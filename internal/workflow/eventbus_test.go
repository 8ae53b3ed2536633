package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusDropOldestUnderFullQueue(t *testing.T) {
	b := NewEventBus()
	sub := b.Subscribe(Filter{})
	defer sub.Unsubscribe()

	total := subscriberQueueDepth + 10
	for i := 0; i < total; i++ {
		b.Publish(&Event{Type: EventStateChanged, Data: map[string]interface{}{"i": i}})
	}

	assert.Equal(t, int64(10), sub.Dropped())

	drained := 0
	for {
		select {
		case ev := <-sub.Chan:
			drained++
			_ = ev
			continue
		default:
		}
		break
	}
	assert.Equal(t, subscriberQueueDepth, drained)
}

func TestEventBusFilterSelectsTypes(t *testing.T) {
	b := NewEventBus()
	sub := b.Subscribe(Filter{Types: []EventType{EventDoseThresholdWarning}})
	defer sub.Unsubscribe()

	b.Publish(&Event{Type: EventStateChanged})
	b.Publish(&Event{Type: EventDoseThresholdWarning})

	ev := <-sub.Chan
	require.Equal(t, EventDoseThresholdWarning, ev.Type)

	select {
	case <-sub.Chan:
		t.Fatal("unexpected second event delivered to filtered subscriber")
	default:
	}
}
