package channel

import (
	"context"
	"testing"
	"time"
)

func TestWebRTCLinkCarriesTokens(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping WebRTC negotiation in short mode")
	}
	srv, url := startServer(t, ServerConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	c, err := DialWebRTC(ctx, url, DialOptions{}, nil, quietLogger())
	if err != nil {
		t.Fatalf("DialWebRTC: %v", err)
	}
	defer c.Close()

	if err := srv.WaitConnected(ctx); err != nil {
		t.Fatalf("WaitConnected: %v", err)
	}
	if err := c.Send("ARM_DOWN"); err != nil {
		t.Fatal(err)
	}
	if got := readEventually(t, srv); got != "ARM_DOWN" {
		t.Fatalf("robot read %q", got)
	}

	c.Close()
	waitUntil(t, 10*time.Second, func() bool { return !srv.Connected() })
}
