package logbus

import (
	"fmt"
	"testing"
	"time"

	"git.home.luguber.info/inful/buildrelay/internal/build"
)

func frame(step int, msg string) Frame {
	return Frame{Type: "log", BuildID: "b1", Step: step, Level: build.LevelInfo, Message: msg, Timestamp: time.Now().UTC()}
}

func TestReplayBeforeLive(t *testing.T) {
	bus := New()
	topic := bus.Open("tok", "b1")

	topic.Publish(frame(0, "Build started"))
	topic.Publish(frame(1, "Executing: Greet"))

	history, live, detach := topic.Attach()
	defer detach()

	if len(history) != 2 {
		t.Fatalf("expected 2 replayed frames, got %d", len(history))
	}
	if history[0].Message != "Build started" || history[1].Message != "Executing: Greet" {
		t.Errorf("replay out of order: %v", history)
	}

	topic.Publish(frame(1, "hi"))
	select {
	case f := <-live:
		if f.Message != "hi" {
			t.Errorf("expected live frame hi, got %s", f.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live frame")
	}
}

func TestAttachSeesEachFrameExactlyOnce(t *testing.T) {
	bus := New()
	topic := bus.Open("tok", "b1")
	for i := 0; i < 10; i++ {
		topic.Publish(frame(1, fmt.Sprintf("line-%d", i)))
	}

	history, live, detach := topic.Attach()
	defer detach()
	for i := 10; i < 20; i++ {
		topic.Publish(frame(1, fmt.Sprintf("line-%d", i)))
	}
	bus.Shutdown("tok")

	seen := map[string]int{}
	for _, f := range history {
		seen[f.Message]++
	}
	for f := range live {
		seen[f.Message]++
	}
	for i := 0; i < 20; i++ {
		msg := fmt.Sprintf("line-%d", i)
		if seen[msg] != 1 {
			t.Errorf("frame %s delivered %d times", msg, seen[msg])
		}
	}
}

func TestSlowSubscriberDropsButKeepsOrder(t *testing.T) {
	bus := New()
	topic := bus.Open("tok", "b1")
	_, live, detach := topic.Attach()
	defer detach()

	// Publish more than the buffer holds without draining.
	total := SubscriberBuffer + 50
	for i := 0; i < total; i++ {
		topic.Publish(frame(1, fmt.Sprintf("line-%04d", i)))
	}
	bus.Shutdown("tok")

	var got []string
	for f := range live {
		got = append(got, f.Message)
	}
	if len(got) != SubscriberBuffer {
		t.Fatalf("expected %d buffered frames, got %d", SubscriberBuffer, len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Fatalf("frames reordered: %s before %s", got[i-1], got[i])
		}
	}
	// The history kept every frame even though the subscriber lost some.
	history, _, detach2 := topic.Attach()
	defer detach2()
	if len(history) != total {
		t.Errorf("expected full history of %d, got %d", total, len(history))
	}
}

func TestShutdownClosesSubscribers(t *testing.T) {
	bus := New()
	topic := bus.Open("tok", "b1")
	_, live, detach := topic.Attach()
	defer detach()

	bus.Shutdown("tok")

	select {
	case _, ok := <-live:
		if ok {
			t.Error("expected closed channel after shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber channel not closed")
	}

	if _, ok := bus.Lookup("tok"); ok {
		t.Error("topic still registered after shutdown")
	}
	// Publishing after shutdown is a no-op, not a panic.
	topic.Publish(frame(2, "late"))
}

func TestAttachAfterShutdownReplaysHistory(t *testing.T) {
	bus := New()
	topic := bus.Open("tok", "b1")
	topic.Publish(frame(0, "Build started"))
	bus.Shutdown("tok")

	history, live, detach := topic.Attach()
	defer detach()
	if len(history) != 1 {
		t.Fatalf("expected history after close, got %d frames", len(history))
	}
	if _, ok := <-live; ok {
		t.Error("expected immediately closed live channel")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	bus := New()
	a := bus.Open("tok", "b1")
	b := bus.Open("tok", "b1")
	if a != b {
		t.Error("expected the same topic for the same token")
	}
}
