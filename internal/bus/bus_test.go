package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("state.", 10)
	defer unsub()

	b.Publish("state.chats", "test")

	select {
	case evt := <-ch:
		if evt.Topic != "state.chats" {
			t.Errorf("got topic %q, want state.chats", evt.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPrefixFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	b.Publish("state.chats", nil)
	b.Publish("session.status", nil)

	select {
	case evt := <-ch:
		if evt.Topic != "session.status" {
			t.Errorf("got topic %q, want session.status", evt.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The state event must not have been delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("state.", 10)
	unsub()

	b.Publish("state.messages", nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("state.", 1)
	defer unsub()

	b.Publish("state.one", nil)
	// Buffer full: this one is dropped rather than blocking the publisher.
	b.Publish("state.two", nil)

	evt := <-ch
	if evt.Topic != "state.one" {
		t.Errorf("got %q, want state.one", evt.Topic)
	}
}
