package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

// peer is an attached controller link as seen by the Server.
type peer interface {
	Send(token string) error
	Close() error
}

// ServerConfig configures the robot end of the channel.
type ServerConfig struct {
	// Authorize vets a connecting controller and returns its name. Nil
	// accepts everyone as "controller".
	Authorize  func(r *http.Request) (string, error)
	ICEServers []webrtc.ICEServer
}

// Server is the robot's Endpoint. It accepts exactly one controller at a
// time, over either a websocket or a WebRTC data channel, and funnels its
// tokens into one Mailbox.
type Server struct {
	cfg      ServerConfig
	logger   *slog.Logger
	mailbox  *Mailbox
	upgrader websocket.Upgrader

	mu        sync.Mutex
	active    peer
	peerName  string
	closed    bool
	firstConn chan struct{}
	connOnce  sync.Once
}

func NewServer(cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		mailbox: NewMailbox(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		firstConn: make(chan struct{}),
	}
}

// Handler serves MailboxPath and SignalPath.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(MailboxPath, s.handleMailbox)
	mux.HandleFunc(SignalPath, s.handleSignal)
	return mux
}

// ListenAndServe binds addr and serves until ctx is canceled. Bind errors
// are returned before any connection is accepted.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("channel listening", "addr", ln.Addr().String(), "channel", Name)
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// WaitConnected blocks until the first controller attaches.
func (s *Server) WaitConnected(ctx context.Context) error {
	select {
	case <-s.firstConn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Peer returns the name of the attached controller, if any.
func (s *Server) Peer() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerName, s.active != nil
}

func (s *Server) Send(token string) error {
	s.mu.Lock()
	p := s.active
	s.mu.Unlock()
	if p == nil {
		return ErrClosed
	}
	return p.Send(token)
}

func (s *Server) Read() (string, bool) { return s.mailbox.Read() }

func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Close detaches the current controller and refuses new ones.
func (s *Server) Close() error {
	s.mu.Lock()
	p := s.active
	s.closed = true
	s.mu.Unlock()
	if p != nil {
		return p.Close()
	}
	return nil
}

func (s *Server) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil || s.closed
}

// claim makes p the attached controller. Tokens left over from a previous
// controller are dropped.
func (s *Server) claim(p peer, name string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.active != nil {
		s.mu.Unlock()
		return ErrBusy
	}
	s.active = p
	s.peerName = name
	s.mu.Unlock()

	s.mailbox.Clear()
	s.connOnce.Do(func() { close(s.firstConn) })
	s.logger.Info("controller paired", "controller", name)
	return nil
}

func (s *Server) release(p peer) {
	s.mu.Lock()
	if s.active != p {
		s.mu.Unlock()
		return
	}
	name := s.peerName
	s.active = nil
	s.peerName = ""
	s.mu.Unlock()
	s.logger.Info("controller detached", "controller", name)
}

// admit runs the checks shared by both transports. It writes the HTTP
// error itself and returns ok=false when the request must not proceed.
func (s *Server) admit(w http.ResponseWriter, r *http.Request) (name string, ok bool) {
	name = "controller"
	if s.cfg.Authorize != nil {
		n, err := s.cfg.Authorize(r)
		if err != nil {
			s.logger.Warn("controller rejected", "remote_addr", r.RemoteAddr, "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return "", false
		}
		name = n
	}
	if s.busy() {
		s.logger.Warn("second controller refused", "remote_addr", r.RemoteAddr, "controller", name)
		http.Error(w, ErrBusy.Error(), http.StatusConflict)
		return "", false
	}
	return name, true
}

func (s *Server) handleMailbox(w http.ResponseWriter, r *http.Request) {
	name, ok := s.admit(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	var c *WSConn
	c = newWSConn(conn, s.mailbox, s.logger, func() { s.release(c) })
	if err := s.claim(c, name); err != nil {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.shutdown()
		return
	}
	c.start()
}

// handleSignal answers one WebRTC offer. The controller is attached once
// its data channel opens.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	name, ok := s.admit(w, r)
	if !ok {
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("signaling upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithTimeout(r.Context(), 2*iceGatherTimeout)
	defer cancel()
	deadline, _ := ctx.Deadline()
	ws.SetReadDeadline(deadline)
	ws.SetWriteDeadline(deadline)

	var offer webrtc.SessionDescription
	if err := ws.ReadJSON(&offer); err != nil {
		s.logger.Warn("read offer failed", "error", err)
		return
	}
	if offer.Type != webrtc.SDPTypeOffer {
		s.logger.Warn("unexpected signaling message", "type", offer.Type.String())
		return
	}

	if err := s.answer(ctx, ws, offer, name); err != nil {
		s.logger.Warn("webrtc negotiation failed", "controller", name, "error", err)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	}
}

func (s *Server) answer(ctx context.Context, ws *websocket.Conn, offer webrtc.SessionDescription, name string) error {
	pc, err := newPeerConnection(s.cfg.ICEServers)
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	var c *RTCConn
	c = newRTCConn(pc, s.mailbox, s.logger, func() { s.release(c) })
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != Name {
			s.logger.Warn("ignoring data channel", "label", dc.Label())
			dc.Close()
			return
		}
		c.attach(dc, func() {
			if err := s.claim(c, name); err != nil {
				s.logger.Warn("data channel refused", "controller", name, "error", err)
				c.shutdown()
			}
		})
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create answer: %w", err)
	}
	if err := gather(ctx, pc, answer); err != nil {
		pc.Close()
		return err
	}
	if err := ws.WriteJSON(pc.LocalDescription()); err != nil {
		pc.Close()
		return fmt.Errorf("send answer: %w", err)
	}
	return nil
}
