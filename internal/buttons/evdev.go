package buttons

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
)

// Linux input subsystem constants (linux/input-event-codes.h).
const (
	evKey = 0x01

	keyRelease = 0
	keyPress   = 1
	keyRepeat  = 2

	KeyEnter = 28
	KeyUp    = 103
	KeyLeft  = 105
	KeyRight = 106
	KeyDown  = 108
)

// KeyMap maps evdev key codes to panel buttons.
type KeyMap map[uint16]Button

// DefaultKeyMap matches the EV3 brick's gpio_keys device, which reports the
// five face buttons as arrow keys plus ENTER.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		KeyUp:    Up,
		KeyDown:  Down,
		KeyLeft:  Left,
		KeyRight: Right,
		KeyEnter: Center,
	}
}

// inputEvent is struct input_event without its timestamp, which the
// sampler has no use for.
type inputEvent struct {
	Type  uint16
	Code  uint16
	Value int32
}

// eventSize is sizeof(struct input_event). The leading struct timeval is
// two native longs, so the record is 16 bytes on 32-bit ARM (the EV3) and 24
// bytes on 64-bit hosts.
var eventSize = 2*strconv.IntSize/8 + 8

// decodeEvent parses one little-endian input_event record of eventSize bytes.
func decodeEvent(buf []byte) inputEvent {
	tail := buf[len(buf)-8:]
	return inputEvent{
		Type:  binary.LittleEndian.Uint16(tail[0:2]),
		Code:  binary.LittleEndian.Uint16(tail[2:4]),
		Value: int32(binary.LittleEndian.Uint32(tail[4:8])),
	}
}

// Evdev is a Source fed by one or more Linux input devices. A background
// reader tracks press and release of the mapped keys; Sample returns the
// buttons currently held.
type Evdev struct {
	keys   KeyMap
	files  []*os.File
	logger *slog.Logger

	mu      sync.Mutex
	pressed Set
	healthy bool
	err     error

	stop chan struct{}
	done chan struct{}
}

// OpenEvdev opens the given device nodes and starts reading them.
func OpenEvdev(paths []string, keys KeyMap, logger *slog.Logger) (*Evdev, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("evdev: no input devices configured")
	}
	files := make([]*os.File, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			for _, opened := range files {
				opened.Close()
			}
			return nil, fmt.Errorf("open input device %s: %w", p, err)
		}
		files = append(files, f)
	}
	return newEvdev(files, keys, logger), nil
}

func newEvdev(files []*os.File, keys KeyMap, logger *slog.Logger) *Evdev {
	if keys == nil {
		keys = DefaultKeyMap()
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Evdev{
		keys:    keys,
		files:   files,
		logger:  logger,
		healthy: true,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(e.done)
		err := readEvents(files, e.stop, e.apply)
		e.fail(err)
	}()
	return e
}

// Sample implements Source. ok turns false for good once the reader fails.
func (e *Evdev) Sample() (Set, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.healthy {
		return 0, false
	}
	return e.pressed, true
}

// Err returns the error that stopped the reader, if any.
func (e *Evdev) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Close stops the reader and closes the devices.
func (e *Evdev) Close() error {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
	var first error
	for _, f := range e.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	<-e.done
	return first
}

func (e *Evdev) apply(ev inputEvent) {
	if ev.Type != evKey {
		return
	}
	b, ok := e.keys[ev.Code]
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch ev.Value {
	case keyPress, keyRepeat:
		e.pressed = e.pressed.With(b)
	case keyRelease:
		e.pressed = e.pressed.Without(b)
	}
}

func (e *Evdev) fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.healthy = false
	e.pressed = 0
	select {
	case <-e.stop:
		// Closed on purpose.
		return
	default:
	}
	e.err = err
	e.logger.Error("input reader stopped", "error", err)
}
