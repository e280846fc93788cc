package bus_test

import (
	"testing"
	"time"

	"github.com/basket/taskdeck/internal/bus"
)

func TestPublishReachesPrefixSubscribers(t *testing.T) {
	b := bus.New()
	all := b.Subscribe("")
	tasks := b.Subscribe("task.")
	other := b.Subscribe("registry.")

	b.Publish(bus.TopicTaskCreated, bus.TaskCreatedEvent{TaskID: 1, Status: "todo"})

	for _, sub := range []*bus.Subscription{all, tasks} {
		select {
		case ev := <-sub.Ch():
			if ev.Topic != bus.TopicTaskCreated {
				t.Fatalf("got topic %q", ev.Topic)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber did not receive event")
		}
	}

	select {
	case ev := <-other.Ch():
		t.Fatalf("non-matching subscriber received %q", ev.Topic)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe("task.")
	if b.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber")
	}
	b.Unsubscribe(sub)
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers")
	}
	if _, open := <-sub.Ch(); open {
		t.Fatalf("channel should be closed")
	}
	// Double unsubscribe is a no-op.
	b.Unsubscribe(sub)
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe("task.")
	for i := 0; i < 500; i++ {
		b.Publish(bus.TopicTaskUpdated, i)
	}
	// The subscriber buffer caps out; publishing never blocked to get here.
	drained := 0
	for {
		select {
		case <-sub.Ch():
			drained++
		default:
			if drained == 0 || drained > 500 {
				t.Fatalf("drained %d events", drained)
			}
			return
		}
	}
}
