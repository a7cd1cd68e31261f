package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

// iceGatherTimeout bounds vanilla ICE gathering on either side.
const iceGatherTimeout = 5 * time.Second

func newPeerConnection(iceServers []webrtc.ICEServer) (*webrtc.PeerConnection, error) {
	se := webrtc.SettingEngine{}
	// Loopback candidates keep same-host runs working.
	se.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
}

// gather sets desc as the local description and waits for ICE gathering so
// the description sent to the peer carries every candidate.
func gather(ctx context.Context, pc *webrtc.PeerConnection, desc webrtc.SessionDescription) error {
	done := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-done:
		return nil
	case <-time.After(iceGatherTimeout):
		return fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RTCConn is a control link over a WebRTC data channel labeled Name. The
// channel is ordered and reliable; tokens travel as text messages.
type RTCConn struct {
	pc      *webrtc.PeerConnection
	mailbox *Mailbox
	logger  *slog.Logger
	onClose func()

	mu sync.Mutex
	dc *webrtc.DataChannel

	once sync.Once
	done chan struct{}
}

func newRTCConn(pc *webrtc.PeerConnection, mailbox *Mailbox, logger *slog.Logger, onClose func()) *RTCConn {
	c := &RTCConn{
		pc:      pc,
		mailbox: mailbox,
		logger:  logger,
		onClose: onClose,
		done:    make(chan struct{}),
	}
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		switch st {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			c.logger.Warn("webrtc link lost", "state", st.String())
			c.shutdown()
		}
	})
	return c
}

// attach wires dc's callbacks into the conn. opened is called once the
// channel is usable.
func (c *RTCConn) attach(dc *webrtc.DataChannel, opened func()) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(opened)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			c.mailbox.Put(string(msg.Data))
		}
	})
	dc.OnClose(c.shutdown)
}

// DialWebRTC offers a data channel to the robot through its signaling
// endpoint under baseURL and waits until the channel opens.
func DialWebRTC(ctx context.Context, baseURL string, opts DialOptions, iceServers []webrtc.ICEServer, logger *slog.Logger) (*RTCConn, error) {
	target, err := wsURL(baseURL, SignalPath)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	pc, err := newPeerConnection(iceServers)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	c := newRTCConn(pc, NewMailbox(), logger, nil)

	ordered := true
	dc, err := pc.CreateDataChannel(Name, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	opened := make(chan struct{})
	c.attach(dc, func() { close(opened) })

	if err := c.negotiate(ctx, target, opts); err != nil {
		pc.Close()
		return nil, err
	}

	select {
	case <-opened:
		logger.Info("webrtc link established", "url", target)
		return c, nil
	case <-c.done:
		return nil, fmt.Errorf("dial %s: %w", target, ErrClosed)
	case <-ctx.Done():
		pc.Close()
		return nil, fmt.Errorf("dial %s: %w", target, ctx.Err())
	}
}

// negotiate runs the offer/answer exchange over a short-lived websocket.
func (c *RTCConn) negotiate(ctx context.Context, target string, opts DialOptions) error {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := gather(ctx, c.pc, offer); err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, target, opts.header())
	if err != nil {
		return handshakeError(target, resp, err)
	}
	defer ws.Close()

	if deadline, ok := ctx.Deadline(); ok {
		ws.SetReadDeadline(deadline)
		ws.SetWriteDeadline(deadline)
	}
	if err := ws.WriteJSON(c.pc.LocalDescription()); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	var answer webrtc.SessionDescription
	if err := ws.ReadJSON(&answer); err != nil {
		if code, text, ok := closeStatus(err); ok && code == websocket.ClosePolicyViolation {
			return fmt.Errorf("signal %s: %w (%s)", target, ErrBusy, text)
		}
		return fmt.Errorf("read answer: %w", err)
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		return fmt.Errorf("signal %s: expected answer, got %s", target, answer.Type)
	}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (c *RTCConn) Send(token string) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()
	if dc == nil {
		return ErrClosed
	}
	if err := dc.SendText(token); err != nil {
		return fmt.Errorf("send token: %w", err)
	}
	return nil
}

func (c *RTCConn) Read() (string, bool) { return c.mailbox.Read() }

func (c *RTCConn) Connected() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Done is closed once the link is gone.
func (c *RTCConn) Done() <-chan struct{} { return c.done }

func (c *RTCConn) Close() error {
	c.shutdown()
	return nil
}

func (c *RTCConn) shutdown() {
	c.once.Do(func() {
		close(c.done)
		// shutdown is reached from pion callbacks, which must not
		// block on closing their own peer connection.
		go c.pc.Close()
		if c.onClose != nil {
			c.onClose()
		}
	})
}
