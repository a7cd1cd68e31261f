package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func startServer(t *testing.T, cfg ServerConfig) (*Server, string) {
	t.Helper()
	srv := NewServer(cfg, quietLogger())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, ts.URL
}

func dial(t *testing.T, url string, opts DialOptions) (*WSConn, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return DialWebsocket(ctx, url, opts, quietLogger())
}

func TestWebsocketLinkCarriesTokens(t *testing.T) {
	srv, url := startServer(t, ServerConfig{})
	var _ Endpoint = srv

	c, err := dial(t, url, DialOptions{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.WaitConnected(ctx); err != nil {
		t.Fatalf("WaitConnected: %v", err)
	}
	if name, ok := srv.Peer(); !ok || name != "controller" {
		t.Fatalf("Peer()=%q,%v", name, ok)
	}

	if err := c.Send("FORWARD"); err != nil {
		t.Fatal(err)
	}
	if got := readEventually(t, srv); got != "FORWARD" {
		t.Fatalf("robot read %q", got)
	}

	if err := srv.Send("hello"); err != nil {
		t.Fatal(err)
	}
	if got := readEventually(t, c); got != "hello" {
		t.Fatalf("controller read %q", got)
	}
}

func TestWebsocketSecondControllerRefused(t *testing.T) {
	srv, url := startServer(t, ServerConfig{})

	first, err := dial(t, url, DialOptions{})
	if err != nil {
		t.Fatal(err)
	}
	waitUntil(t, 3*time.Second, srv.Connected)

	if _, err := dial(t, url, DialOptions{}); !errors.Is(err, ErrBusy) {
		t.Fatalf("second dial err=%v want ErrBusy", err)
	}

	// Once the first controller leaves the robot accepts a new one.
	first.Close()
	waitUntil(t, 3*time.Second, func() bool { return !srv.Connected() })

	second, err := dial(t, url, DialOptions{})
	if err != nil {
		t.Fatalf("redial: %v", err)
	}
	defer second.Close()
	waitUntil(t, 3*time.Second, srv.Connected)
}

func TestWebsocketAuthorization(t *testing.T) {
	authorize := func(r *http.Request) (string, error) {
		if r.Header.Get("Authorization") != "Bearer letmein" {
			return "", errors.New("bad token")
		}
		return "Regina", nil
	}
	srv, url := startServer(t, ServerConfig{Authorize: authorize})

	if _, err := dial(t, url, DialOptions{Token: "nope"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("dial with bad token err=%v", err)
	}

	c, err := dial(t, url, DialOptions{Token: "letmein"})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	waitUntil(t, 3*time.Second, srv.Connected)
	if name, _ := srv.Peer(); name != "Regina" {
		t.Fatalf("Peer()=%q", name)
	}
}

func TestSendWithoutControllerFails(t *testing.T) {
	srv := NewServer(ServerConfig{}, quietLogger())
	if err := srv.Send("x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v", err)
	}
	if _, ok := srv.Read(); ok {
		t.Fatal("Read returned a token")
	}
}

func TestWSURL(t *testing.T) {
	for _, tt := range []struct{ base, want string }{
		{"ws://ricardo.local:8765", "ws://ricardo.local:8765/mailbox/control"},
		{"http://127.0.0.1:8765/", "ws://127.0.0.1:8765/mailbox/control"},
		{"https://robot.example/base", "wss://robot.example/base/mailbox/control"},
	} {
		got, err := wsURL(tt.base, MailboxPath)
		if err != nil || got != tt.want {
			t.Errorf("wsURL(%q)=%q,%v want %q", tt.base, got, err, tt.want)
		}
	}
	if _, err := wsURL("ftp://x", MailboxPath); err == nil {
		t.Error("expected error for ftp scheme")
	}
}
