// Package transport owns the WebSocket connection: dial with retry,
// reassemble inbound frames into whole messages, serialize outbound
// sends, and drive a graceful close handshake.
package transport

import (
	"context"
	"io"

	"github.com/coder/websocket"
)

// Socket is the narrow capability the Transport dials, reads, writes, and
// closes through. It is satisfied by *websocket.Conn; tests substitute a
// fake to drive specific framing and failure scenarios without a real
// network connection.
type Socket interface {
	// Reader returns a reader for the next whole inbound message. Read
	// calls on the returned io.Reader return io.EOF once the message's
	// final fragment has been consumed.
	Reader(ctx context.Context) (websocket.MessageType, io.Reader, error)

	// Writer returns a writer for one outbound message; the caller must
	// call Close on it to mark the message complete (a single text frame
	// with the end-of-message bit set).
	Writer(ctx context.Context, typ websocket.MessageType) (io.WriteCloser, error)

	// Close performs the WebSocket close handshake with the given status
	// code and reason.
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a Socket to a URL. The real implementation wraps
// websocket.Dial; tests substitute a fake dialer to avoid the network.
type Dialer func(ctx context.Context, url string) (Socket, error)

// DialWebSocket is the default Dialer, backed by github.com/coder/websocket.
func DialWebSocket(ctx context.Context, url string) (Socket, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
