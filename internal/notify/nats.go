package notify

import (
	"context"
	"encoding/json"
	"fmt"

	natspkg "github.com/nats-io/nats.go"
)

// DefaultSubject — тема по умолчанию; к ней добавляется уровень.
const DefaultSubject = "firecms.notifications"

type publisher interface {
	Publish(subj string, data []byte) error
}

// NATS публикует уведомления в "<subject>.<level>".
type NATS struct {
	pub     publisher
	subject string
	nc      *natspkg.Conn
}

func NewNATS(url, subject string) (*NATS, error) {
	nc, err := natspkg.Connect(url, natspkg.Name("firecms"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	n := newNATS(nc, subject)
	n.nc = nc
	return n, nil
}

func newNATS(pub publisher, subject string) *NATS {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATS{pub: pub, subject: subject}
}

func (n *NATS) Notify(ctx context.Context, msg Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return n.pub.Publish(n.subject+"."+string(msg.Level), data)
}

func (n *NATS) IsConnected() bool {
	return n.nc != nil && n.nc.Status() == natspkg.CONNECTED
}

func (n *NATS) Close() {
	if n.nc != nil {
		n.nc.Close()
	}
}
