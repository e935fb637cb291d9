package audit

import (
	"log/slog"
	"testing"
)

func TestLog_DropsWhenFull(t *testing.T) {
	logger := slog.Default()
	w := NewWriter(nil, logger)
	// Don't start the background goroutine — nothing drains the channel.

	for i := 0; i < bufferSize; i++ {
		w.Log(Entry{UserID: "u1", Query: "test"})
	}

	// The next log should be dropped (non-blocking), not block the caller.
	w.Log(Entry{UserID: "overflow", Query: "dropped"})

	if len(w.entries) != bufferSize {
		t.Errorf("buffer size = %d, want %d", len(w.entries), bufferSize)
	}
}

func TestLog_FillsIDAndTimestamp(t *testing.T) {
	logger := slog.Default()
	w := NewWriter(nil, logger)

	w.Log(Entry{UserID: "u1", Query: "what is retrieval augmented generation"})

	entry := <-w.entries
	if entry.UserID != "u1" {
		t.Errorf("UserID = %q, want %q", entry.UserID, "u1")
	}
	if entry.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("expected a generated ID, got the zero UUID")
	}
	if entry.OccurredAt.IsZero() {
		t.Error("expected OccurredAt to be populated")
	}
}
