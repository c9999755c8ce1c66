package binance

import (
	"context"

	"github.com/gorilla/websocket"
)

// Conn is the subset of a WebSocket connection the stream client needs.
// *websocket.Conn satisfies it; tests substitute a scripted fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a stream connection for a topic URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// wsDialer dials with gorilla's default dialer.
type wsDialer struct{}

func (wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
