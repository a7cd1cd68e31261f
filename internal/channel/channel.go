// Package channel carries command tokens between the controller and the
// robot over a single named, paired link.
//
// Every transport delivers tokens into a Mailbox: a one-slot buffer where a
// newer token replaces an unread older one. Reading never blocks, so the
// robot loop keeps its cadence whether or not anything arrived.
package channel

import (
	"errors"
	"sync"
)

// Name is the label of the control channel. It names the websocket path and
// the WebRTC data channel.
const Name = "control"

const (
	// MailboxPath is where the robot accepts websocket controllers.
	MailboxPath = "/mailbox/" + Name
	// SignalPath is where the robot accepts WebRTC offers.
	SignalPath = "/signal/" + Name
)

var (
	// ErrClosed is returned when sending on a link that is gone.
	ErrClosed = errors.New("channel closed")
	// ErrBusy is returned when the robot already has a controller.
	ErrBusy = errors.New("channel already paired with another controller")
	// ErrUnauthorized is returned when the robot rejects the pairing token.
	ErrUnauthorized = errors.New("channel pairing rejected")
)

// Endpoint is one end of the control channel.
type Endpoint interface {
	// Send transmits one token. It does not wait for delivery.
	Send(token string) error
	// Read returns the newest unread token, or ok=false at once if none.
	Read() (token string, ok bool)
	// Connected reports whether a peer is attached.
	Connected() bool
	Close() error
}

// Mailbox is a latest-wins slot for received tokens. It is safe for
// concurrent use.
type Mailbox struct {
	slot chan string
}

func NewMailbox() *Mailbox {
	return &Mailbox{slot: make(chan string, 1)}
}

// Put stores token, discarding any unread token. It never blocks.
func (m *Mailbox) Put(token string) {
	for {
		select {
		case m.slot <- token:
			return
		default:
		}
		select {
		case <-m.slot:
		default:
		}
	}
}

// Read takes the stored token, leaving the slot empty.
func (m *Mailbox) Read() (string, bool) {
	select {
	case tok := <-m.slot:
		return tok, true
	default:
		return "", false
	}
}

// Clear drops any unread token.
func (m *Mailbox) Clear() { m.Read() }

// ==============================
// In-memory pipe
// ==============================

// PipeEnd is one side of an in-memory link created by Pipe.
type PipeEnd struct {
	in    *Mailbox
	peer  *PipeEnd
	state *pipeState
}

type pipeState struct {
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// Pipe returns two connected endpoints. Closing either closes both.
func Pipe() (*PipeEnd, *PipeEnd) {
	st := &pipeState{done: make(chan struct{})}
	a := &PipeEnd{in: NewMailbox(), state: st}
	b := &PipeEnd{in: NewMailbox(), state: st}
	a.peer, b.peer = b, a
	return a, b
}

func (p *PipeEnd) Send(token string) error {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	if p.state.closed {
		return ErrClosed
	}
	p.peer.in.Put(token)
	return nil
}

func (p *PipeEnd) Read() (string, bool) { return p.in.Read() }

func (p *PipeEnd) Connected() bool {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	return !p.state.closed
}

// Done is closed when the pipe is closed.
func (p *PipeEnd) Done() <-chan struct{} { return p.state.done }

func (p *PipeEnd) Close() error {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	if !p.state.closed {
		p.state.closed = true
		close(p.state.done)
	}
	return nil
}
