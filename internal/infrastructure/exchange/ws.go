package exchange

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsDialTimeout  = 10 * time.Second
	wsReadDeadline = 60 * time.Second
	wsPingInterval = 25 * time.Second

	wsBackoffInitial = 500 * time.Millisecond
	wsBackoffMax     = 10 * time.Second
)

// dialWS opens a websocket connection with a bounded dial window.
func dialWS(ctx context.Context, wsURL string) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, wsDialTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dctx, wsURL, nil)
	return conn, err
}

// readLoop pumps messages into onMsg while keeping the connection alive with
// periodic pings. Returns when the context ends or the read side fails.
func readLoop(ctx context.Context, conn *websocket.Conn, onMsg func([]byte)) error {
	_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		return nil
	})

	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
			onMsg(b)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingTicker.C:
			_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		}
	}
}

// nextBackoff doubles up to the cap.
func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > wsBackoffMax {
		return wsBackoffMax
	}
	return next
}

// wsSubscription is one symbol's push stream: a cancellable reader goroutine
// plus its health flag.
type wsSubscription struct {
	cancel    context.CancelFunc
	done      chan struct{}
	connected atomic.Bool
}

// stop cancels the reader and waits for it to unwind.
func (s *wsSubscription) stop() {
	s.cancel()
	<-s.done
}
