package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/dkeye/CallRelay/internal/protocol"
	"github.com/gorilla/websocket"
)

// Conn is the part of *websocket.Conn the engine uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials with gorilla/websocket and turns refused handshakes into
// coded domain errors.
type WSDialer struct {
	Dialer *websocket.Dialer
}

func NewWSDialer(timeout time.Duration) *WSDialer {
	d := *websocket.DefaultDialer
	d.HandshakeTimeout = timeout
	return &WSDialer{Dialer: &d}
}

func (d *WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	ws, resp, err := d.Dialer.DialContext(ctx, url, nil)
	if err == nil {
		return ws, nil
	}
	if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
		return nil, rejectionError(resp)
	}
	return nil, domain.NewError(domain.CodeTransientNetwork, fmt.Errorf("%w: %v", domain.ErrTransientNetwork, err))
}

func rejectionError(resp *http.Response) error {
	defer resp.Body.Close()
	var rej protocol.Rejection
	body, _ := io.ReadAll(resp.Body)
	if json.Unmarshal(body, &rej) == nil && rej.Error != "" {
		return domain.NewError(rej.Error, fmt.Errorf("connect rejected (%d): %s", resp.StatusCode, rej.Message))
	}
	if code, ok := domain.CodeFromStatus(resp.StatusCode); ok {
		return domain.NewError(code, fmt.Errorf("connect rejected (%d)", resp.StatusCode))
	}
	return domain.NewError(domain.CodeTransientNetwork,
		fmt.Errorf("%w: unexpected status %d", domain.ErrTransientNetwork, resp.StatusCode))
}
