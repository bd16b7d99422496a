package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nats-io/nats.go"
)

// NATSMirror republishes plugin messages on a NATS subject so other services
// can follow the machine without holding an SSE stream open.
type NATSMirror struct {
	conn    *nats.Conn
	subject string
}

// DialNATS connects to url and returns a mirror publishing to subject.
func DialNATS(url, subject string, opts ...nats.Option) (*NATSMirror, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NATSMirror{conn: nc, subject: subject}, nil
}

// Mirror publishes msg as JSON.
func (m *NATSMirror) Mirror(ctx context.Context, msg Message) error {
	if m == nil || m.conn == nil {
		return errors.New("nil nats mirror")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return m.conn.Publish(m.subject, data)
}

// Close drains the connection.
func (m *NATSMirror) Close() {
	if m == nil || m.conn == nil {
		return
	}
	if err := m.conn.Drain(); err != nil {
		m.conn.Close()
	}
}
