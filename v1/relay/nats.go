package relay

import (
	"context"
	"encoding/json"

	nats "github.com/nats-io/nats.go"

	"github.com/mirkobrombin/go-editlock/v1/event"
)

// NATSSink publishes events to "<subject>.<kind>" so consumers can
// subscribe to all events with "<subject>.>" or to a single kind.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// NewNATSSink returns a sink publishing on conn under subject.
func NewNATSSink(conn *nats.Conn, subject string) *NATSSink {
	return &NATSSink{conn: conn, subject: subject}
}

// Send implements Sink.Send.
func (s *NATSSink) Send(ctx context.Context, ev event.ChangeEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(s.subject + "." + string(ev.Kind))
	msg.Header.Set("Editlock-Resource", ev.ResourceID)
	msg.Data = data
	return s.conn.PublishMsg(msg)
}

// Close flushes pending messages. The connection is owned by the caller.
func (s *NATSSink) Close() error {
	return s.conn.Flush()
}
