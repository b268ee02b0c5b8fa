package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const WS_HANDSHAKE_TIMEOUT = 10 * time.Second

// WebSocketTransport - push-канал поверх websocket. Каждое сообщение - конверт {"event","data"}.
type WebSocketTransport struct {
	URL    string
	Dialer *websocket.Dialer
}

func NewWebSocketTransport(url string) *WebSocketTransport {
	return &WebSocketTransport{
		URL: url,
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: WS_HANDSHAKE_TIMEOUT,
		},
	}
}

func (t *WebSocketTransport) Name() string { return "websocket" }

func (t *WebSocketTransport) Dial(ctx context.Context, creds Credentials) (Stream, error) {
	header := http.Header{}
	if creds.Token != "" {
		header.Set("Authorization", "Bearer "+creds.Token)
		header.Set("Cookie", (&http.Cookie{Name: "token", Value: creds.Token}).String())
	}
	conn, resp, err := t.Dialer.DialContext(ctx, t.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Receive(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	return decodeEnvelope(data)
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}

func decodeEnvelope(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: envelope: %v", ErrMalformedPayload, err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("%w: envelope without event name", ErrMalformedPayload)
	}
	return f, nil
}
