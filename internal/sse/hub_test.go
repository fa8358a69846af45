package sse

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/characterhub/api/internal/model"
)

func update(jobID string, progress int) model.StreamEvent {
	return model.StreamEvent{
		Type:     model.EventJobUpdate,
		JobID:    jobID,
		Status:   model.JobStatusActive,
		Progress: progress,
	}
}

// drainConnected consumes the handshake event queued at subscribe time.
func drainConnected(t *testing.T, sub *Subscription) {
	t.Helper()
	ev := <-sub.Events()
	if ev.Type != model.EventConnected {
		t.Fatalf("expected connected event first, got %s", ev.Type)
	}
}

func TestSubscribe_QueuesConnectedEvent(t *testing.T) {
	h := NewHub(zerolog.Nop())
	sub := h.Subscribe("job-1", "user-1")
	defer h.Unsubscribe(sub)

	select {
	case ev := <-sub.Events():
		if ev.Type != model.EventConnected || ev.JobID != "job-1" {
			t.Errorf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("connected event not queued")
	}
}

func TestPublishJob_FanOut(t *testing.T) {
	h := NewHub(zerolog.Nop())
	a := h.Subscribe("job-1", "user-1")
	b := h.Subscribe("job-1", "user-2")
	other := h.Subscribe("job-2", "user-3")
	defer h.Unsubscribe(a)
	defer h.Unsubscribe(b)
	defer h.Unsubscribe(other)
	drainConnected(t, a)
	drainConnected(t, b)
	drainConnected(t, other)

	h.PublishJob("job-1", update("job-1", 40))

	for _, sub := range []*Subscription{a, b} {
		select {
		case ev := <-sub.Events():
			if ev.Progress != 40 {
				t.Errorf("expected progress 40, got %d", ev.Progress)
			}
		default:
			t.Error("subscriber missed the event")
		}
	}
	select {
	case ev := <-other.Events():
		t.Errorf("unrelated subscriber received %+v", ev)
	default:
	}
}

func TestPublishOwner_ReachesAggregateStream(t *testing.T) {
	h := NewHub(zerolog.Nop())
	mine := h.SubscribeOwner("user-1")
	theirs := h.SubscribeOwner("user-2")
	defer h.Unsubscribe(mine)
	defer h.Unsubscribe(theirs)
	drainConnected(t, mine)
	drainConnected(t, theirs)

	h.PublishOwner("user-1", update("job-1", 10))

	select {
	case ev := <-mine.Events():
		if ev.JobID != "job-1" {
			t.Errorf("unexpected event: %+v", ev)
		}
	default:
		t.Error("owner stream missed the event")
	}
	select {
	case <-theirs.Events():
		t.Error("other owner's stream received the event")
	default:
	}
}

func TestNoReplay_LateSubscriberGetsNothing(t *testing.T) {
	h := NewHub(zerolog.Nop())

	// Published into the void: no subscribers yet.
	h.PublishJob("job-1", update("job-1", 50))

	sub := h.Subscribe("job-1", "user-1")
	defer h.Unsubscribe(sub)
	drainConnected(t, sub)

	select {
	case ev := <-sub.Events():
		t.Errorf("late subscriber received replayed event %+v", ev)
	default:
	}
}

func TestUnsubscribe_ClosesChannelAndStopsDelivery(t *testing.T) {
	h := NewHub(zerolog.Nop())
	sub := h.Subscribe("job-1", "user-1")
	drainConnected(t, sub)

	h.Unsubscribe(sub)
	if _, ok := <-sub.Events(); ok {
		t.Error("channel not closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic or deliver.
	h.PublishJob("job-1", update("job-1", 90))

	stats := h.Stats()
	if stats.Connections != 0 {
		t.Errorf("expected 0 connections, got %d", stats.Connections)
	}
}

func TestSlowSubscriber_IsDropped(t *testing.T) {
	h := NewHub(zerolog.Nop())
	slow := h.Subscribe("job-1", "user-1")
	// Never reads. The connected event plus published events fill the buffer.

	for i := 0; i <= subscriptionBuffer; i++ {
		h.PublishJob("job-1", update("job-1", i))
	}

	if _, ok := h.byJob["job-1"]; ok {
		t.Error("slow subscriber still registered")
	}
	// The channel must be closed so the writer goroutine unwinds.
	drained := 0
	for range slow.Events() {
		drained++
	}
	if drained == 0 {
		t.Error("expected buffered events before close")
	}
}

func TestSend_AfterCloseIsSwallowed(t *testing.T) {
	h := NewHub(zerolog.Nop())
	sub := h.Subscribe("job-1", "user-1")

	// Fill the buffer so a racing send would have taken the default arm of a
	// bare select, which still panics once the channel is closed.
	for i := 0; i < subscriptionBuffer; i++ {
		h.PublishJob("job-1", update("job-1", i))
	}
	h.Unsubscribe(sub)

	// A publisher that snapshotted the sub before removal lands here.
	if !sub.send(update("job-1", 99)) {
		t.Error("closed subscription must swallow the send, not report a full buffer")
	}
}

func TestPublish_RacingUnsubscribeDoesNotPanic(t *testing.T) {
	h := NewHub(zerolog.Nop())

	var publishers sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		publishers.Add(1)
		go func() {
			defer publishers.Done()
			for {
				select {
				case <-stop:
					return
				default:
					h.PublishJob("job-race", update("job-race", 1))
				}
			}
		}()
	}

	// Subscribers come and go without ever reading, so their buffers are full
	// when the unsubscribe close races the publishers' sends.
	for i := 0; i < 500; i++ {
		sub := h.Subscribe("job-race", "user-race")
		for n := 0; n < subscriptionBuffer; n++ {
			h.PublishJob("job-race", update("job-race", n))
		}
		h.Unsubscribe(sub)
	}
	close(stop)
	publishers.Wait()
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	h := NewHub(zerolog.Nop())

	subs := make([]*Subscription, 8)
	var readers sync.WaitGroup
	for i := range subs {
		subs[i] = h.Subscribe("job-1", "user-1")
		readers.Add(1)
		go func(sub *Subscription) {
			defer readers.Done()
			for range sub.Events() {
			}
		}(subs[i])
	}

	var publishers sync.WaitGroup
	for i := 0; i < 4; i++ {
		publishers.Add(1)
		go func() {
			defer publishers.Done()
			for n := 0; n < 200; n++ {
				h.PublishJob("job-1", update("job-1", n%100))
			}
		}()
	}
	publishers.Wait()

	for _, sub := range subs {
		h.Unsubscribe(sub)
	}
	readers.Wait()
}
