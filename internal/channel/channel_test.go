package channel

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// readEventually polls r until it yields a token.
func readEventually(t *testing.T, r interface{ Read() (string, bool) }) string {
	t.Helper()
	var got string
	waitUntil(t, 3*time.Second, func() bool {
		tok, ok := r.Read()
		if ok {
			got = tok
		}
		return ok
	})
	return got
}

func TestMailboxLatestWins(t *testing.T) {
	m := NewMailbox()
	if _, ok := m.Read(); ok {
		t.Fatal("empty mailbox returned a token")
	}

	m.Put("FORWARD")
	m.Put("LEFT")
	m.Put("STOP_DRIVE")
	if tok, ok := m.Read(); !ok || tok != "STOP_DRIVE" {
		t.Fatalf("Read()=%q,%v want STOP_DRIVE", tok, ok)
	}
	if _, ok := m.Read(); ok {
		t.Fatal("token read twice")
	}

	m.Put("ARM_UP")
	m.Clear()
	if _, ok := m.Read(); ok {
		t.Fatal("Clear left a token")
	}
}

func TestPipe(t *testing.T) {
	a, b := Pipe()
	var _ Endpoint = a

	if err := a.Send("FORWARD"); err != nil {
		t.Fatal(err)
	}
	if err := b.Send("ack"); err != nil {
		t.Fatal(err)
	}
	if tok, ok := b.Read(); !ok || tok != "FORWARD" {
		t.Fatalf("b.Read()=%q,%v", tok, ok)
	}
	if tok, ok := a.Read(); !ok || tok != "ack" {
		t.Fatalf("a.Read()=%q,%v", tok, ok)
	}

	b.Close()
	if a.Connected() {
		t.Fatal("peer still connected after Close")
	}
	if err := a.Send("STOP_ALL"); err != ErrClosed {
		t.Fatalf("Send after close err=%v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed")
	}
}
