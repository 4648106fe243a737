package link

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zenoh-pico-go/zenohpico/internal/zerr"
)

// wsPath is the fixed HTTP upgrade path zenohd serves the ws/wss scheme
// on, mirroring the teacher's single fixed gRPC mount point in
// internal/server/server.go.
const wsPath = "/zenoh"

func init() {
	Register("ws", wsOpener{secure: false})
	Register("wss", wsOpener{secure: true})
}

type wsOpener struct {
	secure bool
}

func (o wsOpener) Open(ctx context.Context, loc Locator) (Link, error) {
	scheme := "ws"
	if o.secure {
		scheme = "wss"
	}
	url := fmt.Sprintf("%s://%s%s", scheme, loc.Address, wsPath)
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &wsLink{conn: conn}, nil
}

func (o wsOpener) Listen(ctx context.Context, loc Locator) (Listener, error) {
	lnCh := make(chan Link, 16)
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		select {
		case lnCh <- &wsLink{conn: conn}:
		default:
			_ = conn.Close()
		}
	})

	var lc net.ListenConfig
	tcpLn, err := lc.Listen(ctx, "tcp", loc.Address)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", wsScheme(o.secure), loc.Address, err)
	}

	srv := &http.Server{Handler: mux}
	go func() { _ = srv.Serve(tcpLn) }()

	return &wsListener{srv: srv, tcpLn: tcpLn, ch: lnCh}, nil
}

func wsScheme(secure bool) string {
	if secure {
		return "wss"
	}
	return "ws"
}

// wsLink implements Link over a gorilla/websocket connection: each batch
// is one binary WebSocket message, so no extra length framing is needed
// despite `ws`/`wss` being stream-layer schemes in spec.md §4.2's framing
// table (the WebSocket message boundary already supplies it).
type wsLink struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func (l *wsLink) Capabilities() Capabilities {
	return Capabilities{Reliable: true, Flow: FlowStream, Multicast: false}
}

func (l *wsLink) MTU() int { return defaultTCPMTU }

func (l *wsLink) Send(batch []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("send: %w", zerr.ErrClosed)
	}
	if err := l.conn.WriteMessage(websocket.BinaryMessage, batch); err != nil {
		return fmt.Errorf("send ws message: %w", zerr.ErrTxFailed)
	}
	return nil
}

func (l *wsLink) Recv(buf []byte) (int, netip.AddrPort, error) {
	kind, data, err := l.conn.ReadMessage()
	if err != nil {
		return 0, netip.AddrPort{}, fmt.Errorf("recv ws message: %w", zerr.ErrRxFailed)
	}
	if kind != websocket.BinaryMessage {
		return 0, netip.AddrPort{}, fmt.Errorf("recv ws message: unexpected frame type %d: %w", kind, zerr.ErrRxFailed)
	}
	n := copy(buf, data)
	return n, netip.AddrPort{}, nil
}

func (l *wsLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.conn.Close(); err != nil {
		return fmt.Errorf("close ws link: %w", err)
	}
	return nil
}

type wsListener struct {
	srv   *http.Server
	tcpLn net.Listener
	ch    chan Link
}

func (l *wsListener) Accept(ctx context.Context) (Link, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("accept ws: %w", ctx.Err())
	case link := <-l.ch:
		return link, nil
	}
}

func (l *wsListener) Close() error {
	if err := l.srv.Close(); err != nil {
		return fmt.Errorf("close ws listener: %w", err)
	}
	return nil
}
