package services

import (
	"context"
	"encoding/json"
)

// Credentials - токен и идентичность для рукопожатия транспорта
type Credentials struct {
	Token  string
	UserID string
	Role   string
}

// Frame - одно именованное сообщение транспорта
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Transport открывает поток push-событий (websocket, redis pub/sub, amqp).
// ctx у Dial ограничивает рукопожатие; открытый поток от него не зависит.
type Transport interface {
	Name() string
	Dial(ctx context.Context, creds Credentials) (Stream, error)
}

// Stream - открытое соединение. Receive блокируется до следующего кадра;
// Close разблокирует его. Ошибка, оборачивающая ErrMalformedPayload, не рвет соединение.
type Stream interface {
	Receive(ctx context.Context) (Frame, error)
	Close() error
}
