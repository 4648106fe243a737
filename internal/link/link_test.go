package link_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/zenoh-pico-go/zenohpico/internal/link"
	"github.com/zenoh-pico-go/zenohpico/internal/zerr"
)

func TestParseLocator(t *testing.T) {
	t.Parallel()
	loc, err := link.ParseLocator("tcp/127.0.0.1:7447")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if loc.Scheme != "tcp" || loc.Address != "127.0.0.1:7447" {
		t.Errorf("got %+v", loc)
	}
	if loc.String() != "tcp/127.0.0.1:7447" {
		t.Errorf("round trip string: %s", loc.String())
	}
}

func TestParseLocatorWithParams(t *testing.T) {
	t.Parallel()
	loc, err := link.ParseLocator("udp/224.0.0.224:7446?iface=eth0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if loc.Params["iface"] != "eth0" {
		t.Errorf("got params %+v", loc.Params)
	}
}

func TestParseLocatorRejectsUnknownScheme(t *testing.T) {
	t.Parallel()
	_, err := link.ParseLocator("quic/127.0.0.1:7447")
	if !errors.Is(err, zerr.ErrLocatorUnknownScheme) {
		t.Fatalf("want ErrLocatorUnknownScheme, got %v", err)
	}
}

func TestParseLocatorRejectsMalformed(t *testing.T) {
	t.Parallel()
	cases := []string{"", "noscheme", "tcp/"}
	for _, s := range cases {
		if _, err := link.ParseLocator(s); !errors.Is(err, zerr.ErrLocatorInvalid) {
			t.Errorf("parse(%q): want ErrLocatorInvalid, got %v", s, err)
		}
	}
}

func TestRecognizedPlatformSchemes(t *testing.T) {
	t.Parallel()
	if !link.Recognized("serial") || !link.Recognized("bt") {
		t.Fatal("serial/bt should be recognized locator schemes")
	}
	loc, err := link.ParseLocator("serial//dev/ttyUSB0")
	if err != nil {
		t.Fatalf("parse serial locator: %v", err)
	}
	_, err = link.Open(context.Background(), loc)
	if !errors.Is(err, zerr.ErrLinkUnsupportedPlatform) {
		t.Fatalf("want ErrLinkUnsupportedPlatform, got %v", err)
	}
}

func TestTCPLinkRoundTrip(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr := "127.0.0.1:0"
	_ = addr
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	loc, err := link.ParseLocator("tcp/" + ln.Addr().String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	tcpLn, err := link.Listen(ctx, loc)
	if err != nil {
		t.Fatalf("link.Listen: %v", err)
	}
	defer tcpLn.Close()
	ln.Close() // the plain net.Listener was only used to pick a free port

	type acceptResult struct {
		l   link.Link
		err error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		l, err := tcpLn.Accept(ctx)
		acceptCh <- acceptResult{l, err}
	}()

	client, err := link.Open(ctx, loc)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer client.Close()

	res := <-acceptCh
	if res.err != nil {
		t.Fatalf("accept: %v", res.err)
	}
	server := res.l
	defer server.Close()

	if err := client.Send([]byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}
	buf := make([]byte, 64)
	n, _, err := server.Recv(buf)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("got %q", buf[:n])
	}
}
