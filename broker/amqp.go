package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"

	"github.com/Azure/go-amqp"
	"github.com/google/uuid"

	"github.com/wfunc/srtgame/logger"
	"github.com/wfunc/srtgame/protocol"
	"github.com/wfunc/srtgame/topology"
)

// Connect makes a single attempt to reach the AMQP 1.0 broker at endpoint and
// open a session on it. It never retries; see ConnectWithRetry.
func Connect(ctx context.Context, endpoint string, opts Options) (*Session, error) {
	u, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	connOpts := &amqp.ConnOptions{ContainerID: opts.ContainerID}
	switch {
	case opts.Username != "":
		connOpts.SASLType = amqp.SASLTypePlain(opts.Username, opts.Password)
	case u.User == nil:
		connOpts.SASLType = amqp.SASLTypeAnonymous()
	}
	if u.Scheme == "amqps" {
		connOpts.TLSConfig = &tls.Config{
			ServerName: u.Hostname(),
			MinVersion: tls.VersionTLS12,
		}
		if opts.InsecureSkipVerify {
			logger.Log.Warnf("TLS certificate verification is DISABLED for %s; this setting is for testing only", u.Redacted())
			connOpts.TLSConfig.InsecureSkipVerify = true
		}
	}

	logger.Log.Infof("Connecting to broker %s", u.Redacted())
	conn, err := amqp.Dial(ctx, endpoint, connOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnection, u.Redacted(), err)
	}
	session, err := conn.NewSession(ctx, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: open session on %s: %w", ErrConnection, u.Redacted(), err)
	}
	logger.Log.Infof("Broker session established on %s", u.Redacted())

	return NewSession(&amqpTransport{conn: conn, session: session}, opts), nil
}

func parseEndpoint(endpoint string) (*url.URL, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return nil, fmt.Errorf("%w: scheme %q is not amqp or amqps", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	return u, nil
}

type amqpTransport struct {
	conn    *amqp.Conn
	session *amqp.Session
}

func (t *amqpTransport) NewSender(ctx context.Context, addr topology.LinkAddress, opts SenderOptions) (Sender, error) {
	mode := amqp.SenderSettleModeUnsettled
	if opts.Presettled {
		mode = amqp.SenderSettleModeSettled
	}
	s, err := t.session.NewSender(ctx, addr.Name, &amqp.SenderOptions{
		Name:               opts.Name,
		TargetCapabilities: []string{addr.Class.Capability()},
		SettlementMode:     mode.Ptr(),
	})
	if err != nil {
		return nil, err
	}
	return &amqpSender{sender: s}, nil
}

func (t *amqpTransport) NewReceiver(ctx context.Context, addr topology.LinkAddress, opts ReceiverOptions) (Receiver, error) {
	r, err := t.session.NewReceiver(ctx, addr.Name, &amqp.ReceiverOptions{
		Name:               opts.Name,
		Credit:             opts.Credit,
		SourceCapabilities: []string{addr.Class.Capability()},
	})
	if err != nil {
		return nil, err
	}
	return &amqpReceiver{receiver: r}, nil
}

func (t *amqpTransport) Close(ctx context.Context) error {
	return errors.Join(t.session.Close(ctx), t.conn.Close())
}

type amqpSender struct {
	sender *amqp.Sender
}

func (s *amqpSender) Send(ctx context.Context, payload []byte) error {
	contentType := protocol.ContentType
	msg := amqp.NewMessage(payload)
	msg.Properties = &amqp.MessageProperties{
		MessageID:   uuid.NewString(),
		ContentType: &contentType,
	}
	return s.sender.Send(ctx, msg, nil)
}

func (s *amqpSender) Close(ctx context.Context) error {
	return s.sender.Close(ctx)
}

type amqpReceiver struct {
	receiver *amqp.Receiver
}

func (r *amqpReceiver) Receive(ctx context.Context) (Delivery, error) {
	msg, err := r.receiver.Receive(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &amqpDelivery{receiver: r.receiver, msg: msg}, nil
}

func (r *amqpReceiver) Close(ctx context.Context) error {
	return r.receiver.Close(ctx)
}

type amqpDelivery struct {
	receiver *amqp.Receiver
	msg      *amqp.Message
}

func (d *amqpDelivery) Payload() []byte {
	return d.msg.GetData()
}

func (d *amqpDelivery) Accept(ctx context.Context) error {
	return d.receiver.AcceptMessage(ctx, d.msg)
}

func (d *amqpDelivery) Release(ctx context.Context) error {
	return d.receiver.ReleaseMessage(ctx, d.msg)
}
