package build

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewSocketToken(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok := NewSocketToken()
		if len(tok) != SocketTokenLength {
			t.Fatalf("expected %d chars, got %d", SocketTokenLength, len(tok))
		}
		for _, c := range tok {
			ok := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
			if !ok {
				t.Fatalf("non-alphanumeric character %q in token %s", c, tok)
			}
		}
		if seen[tok] {
			t.Fatalf("duplicate token generated: %s", tok)
		}
		seen[tok] = true
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusSuccess, StatusFailed, StatusAborted}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []Status{StatusQueued, StatusRunning} {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestStatusSerialization(t *testing.T) {
	data, err := json.Marshal(StatusAborted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `"aborted"` {
		t.Errorf("expected lowercase wire form, got %s", data)
	}
}

func TestResultOfCopiesLogs(t *testing.T) {
	proc := &Process{
		ID:          "b1",
		ProjectName: "p",
		StartedAt:   time.Now().UTC().Add(-3 * time.Second),
		Logs: []Log{
			{Step: 0, Level: LevelInfo, Message: "Build started"},
			{Step: 1, Level: LevelInfo, Message: "hi"},
		},
	}

	completed := time.Now().UTC()
	res := ResultOf(proc, StatusSuccess, completed)

	if res.Status != StatusSuccess {
		t.Errorf("expected status success, got %s", res.Status)
	}
	if res.DurationSeconds < 2 || res.DurationSeconds > 4 {
		t.Errorf("unexpected duration: %d", res.DurationSeconds)
	}
	if len(res.Logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(res.Logs))
	}

	// Mutating the process afterwards must not leak into the frozen result.
	proc.Logs[0].Message = "mutated"
	if res.Logs[0].Message != "Build started" {
		t.Error("result logs share backing array with process logs")
	}
}
