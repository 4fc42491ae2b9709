package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TypeCycleStarted, Data: CycleData{Cycle: 1}})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != TypeCycleStarted || e.Time.IsZero() {
				t.Fatalf("unexpected event %+v", e)
			}
			if d, ok := e.Data.(CycleData); !ok || d.Cycle != 1 {
				t.Fatalf("unexpected data %+v", e.Data)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TypeItemSucceeded})
	b.Publish(Event{Type: TypeItemFailed})

	if len(ch) != 1 {
		t.Fatalf("expected 1 buffered event, got %d", len(ch))
	}
}

func TestUnsubscribeThenPublish(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	b.Publish(Event{Type: TypeStopping})
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
}

func TestNopBus(t *testing.T) {
	b := Nop()
	b.Publish(Event{Type: TypeWaiting})
	ch, unsub := b.Subscribe(1)
	defer unsub()
	if _, ok := <-ch; ok {
		t.Fatal("nop subscription should be closed")
	}
}
