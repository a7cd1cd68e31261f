package buttons

import (
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"
)

func encodeEvent(typ, code uint16, value int32) []byte {
	buf := make([]byte, eventSize)
	tail := buf[len(buf)-8:]
	binary.LittleEndian.PutUint16(tail[0:2], typ)
	binary.LittleEndian.PutUint16(tail[2:4], code)
	binary.LittleEndian.PutUint32(tail[4:8], uint32(value))
	return buf
}

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

func TestDecodeEvent(t *testing.T) {
	ev := decodeEvent(encodeEvent(evKey, KeyDown, keyRepeat))
	if ev.Type != evKey || ev.Code != KeyDown || ev.Value != keyRepeat {
		t.Fatalf("decodeEvent=%+v", ev)
	}
	ev = decodeEvent(encodeEvent(0, 0, -1))
	if ev.Value != -1 {
		t.Fatalf("negative value decoded as %d", ev.Value)
	}
}

func TestEvdevApplyTracksPressAndRelease(t *testing.T) {
	e := &Evdev{keys: DefaultKeyMap(), healthy: true}

	e.apply(inputEvent{Type: evKey, Code: KeyUp, Value: keyPress})
	e.apply(inputEvent{Type: evKey, Code: KeyEnter, Value: keyPress})
	e.apply(inputEvent{Type: 0, Code: 0, Value: 0}) // EV_SYN
	e.apply(inputEvent{Type: evKey, Code: 30, Value: keyPress})
	if set, _ := e.Sample(); set != Of(Up, Center) {
		t.Fatalf("held=%v want UP+CENTER", set)
	}

	e.apply(inputEvent{Type: evKey, Code: KeyUp, Value: keyRelease})
	e.apply(inputEvent{Type: evKey, Code: KeyEnter, Value: keyRepeat})
	if set, _ := e.Sample(); set != Of(Center) {
		t.Fatalf("held=%v want CENTER", set)
	}
}

func TestEvdevReadsDevice(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := newEvdev([]*os.File{r}, nil, logger)
	defer e.Close()

	if _, err := w.Write(encodeEvent(evKey, KeyLeft, keyPress)); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, 2*time.Second, func() bool {
		set, ok := e.Sample()
		return ok && set == Of(Left)
	})

	if _, err := w.Write(encodeEvent(evKey, KeyLeft, keyRelease)); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, 2*time.Second, func() bool {
		set, ok := e.Sample()
		return ok && set.Empty()
	})

	// Losing the device makes the source unavailable.
	w.Close()
	waitUntil(t, 2*time.Second, func() bool {
		_, ok := e.Sample()
		return !ok
	})
	if e.Err() == nil {
		t.Fatal("expected reader error after device hangup")
	}
}
