// Package broker owns the connection to the message broker and every link
// opened on it.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wfunc/srtgame/logger"
	"github.com/wfunc/srtgame/topology"
)

var (
	ErrConnection        = errors.New("broker connection failed")
	ErrInvalidEndpoint   = errors.New("invalid broker endpoint")
	ErrDuplicateLink     = errors.New("link already open")
	ErrDirectionMismatch = errors.New("link direction mismatch")
	ErrSendFailure       = errors.New("send failed")
	ErrClosed            = errors.New("broker session closed")
)

const (
	defaultCredit  = 10
	releaseTimeout = 2 * time.Second
)

// AckMode decides when an inbound message is settled relative to its handler.
type AckMode int

const (
	// AckBeforeHandle settles each message before the handler runs. A crash
	// during handling loses the message: at-most-once.
	AckBeforeHandle AckMode = iota
	// AckAfterHandle settles after the handler returns nil and releases the
	// message for redelivery on error: at-least-once. Handlers must be
	// idempotent.
	AckAfterHandle
)

func (m AckMode) String() string {
	if m == AckAfterHandle {
		return "after_handle"
	}
	return "before_handle"
}

// ParseAckMode accepts the names produced by AckMode.String. Empty means the
// default, AckBeforeHandle.
func ParseAckMode(s string) (AckMode, error) {
	switch s {
	case "", "before_handle":
		return AckBeforeHandle, nil
	case "after_handle":
		return AckAfterHandle, nil
	default:
		return 0, fmt.Errorf("unknown ack mode %q", s)
	}
}

// Recorder receives link-level counters. monitor.Monitor implements it.
type Recorder interface {
	IncReceived(address string)
	IncSent(address string)
	IncSendFailures(address string)
}

type nopRecorder struct{}

func (nopRecorder) IncReceived(string)     {}
func (nopRecorder) IncSent(string)         {}
func (nopRecorder) IncSendFailures(string) {}

// Options configures a Session.
type Options struct {
	// ContainerID identifies this process to the broker.
	ContainerID string
	Username    string
	Password    string
	// InsecureSkipVerify disables TLS certificate checks. Test setups only.
	InsecureSkipVerify bool
	AckMode            AckMode
	// Credit is the receive prefetch per link.
	Credit  int32
	Metrics Recorder
}

// Dialer opens a Session. Connect is the production Dialer.
type Dialer func(ctx context.Context, endpoint string, opts Options) (*Session, error)

// Handler processes one inbound payload. Under AckAfterHandle a non-nil error
// releases the message back to the broker.
type Handler func(ctx context.Context, payload []byte) error

type linkKey struct {
	name string
	dir  topology.Direction
}

// Session owns one broker connection, the session multiplexed over it, and
// all send and receive links. Nothing else holds broker handles.
type Session struct {
	transport Transport
	opts      Options
	metrics   Recorder

	mutex     sync.Mutex
	senders   map[linkKey]*SendLink
	receivers map[linkKey]*ReceiveLink
	closed    atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession wraps an already-open transport.
func NewSession(t Transport, opts Options) *Session {
	if opts.Credit <= 0 {
		opts.Credit = defaultCredit
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopRecorder{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		transport: t,
		opts:      opts,
		metrics:   metrics,
		senders:   make(map[linkKey]*SendLink),
		receivers: make(map[linkKey]*ReceiveLink),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// AckMode reports how inbound messages are settled.
func (s *Session) AckMode() AckMode {
	return s.opts.AckMode
}

// SendOptions configures OpenSend. A nil *SendOptions means fire-and-forget.
type SendOptions struct {
	// AwaitSettlement makes Send wait for the broker to settle each message
	// and report rejections as ErrSendFailure.
	AwaitSettlement bool
}

// OpenSend opens a send link to addr. Each address can be opened for sending
// once per session.
func (s *Session) OpenSend(ctx context.Context, addr topology.LinkAddress, opts *SendOptions) (*SendLink, error) {
	if addr.Direction != topology.Send {
		return nil, fmt.Errorf("%w: %s opened for sending", ErrDirectionMismatch, addr)
	}
	if opts == nil {
		opts = &SendOptions{}
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed.Load() {
		return nil, ErrClosed
	}
	key := linkKey{name: addr.Name, dir: addr.Direction}
	if _, exists := s.senders[key]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateLink, addr)
	}

	sender, err := s.transport.NewSender(ctx, addr, SenderOptions{
		Name:       s.linkName(addr),
		Presettled: !opts.AwaitSettlement,
	})
	if err != nil {
		return nil, fmt.Errorf("open sender on %s: %w", addr, err)
	}

	link := &SendLink{addr: addr, sender: sender, session: s}
	s.senders[key] = link
	logger.Log.Infof("Opened send link %s (await settlement: %t)", addr, opts.AwaitSettlement)
	return link, nil
}

// OpenReceive opens a receive link on addr and starts delivering its
// messages to handler, one at a time, in arrival order.
func (s *Session) OpenReceive(ctx context.Context, addr topology.LinkAddress, handler Handler) (*ReceiveLink, error) {
	if addr.Direction != topology.Receive {
		return nil, fmt.Errorf("%w: %s opened for receiving", ErrDirectionMismatch, addr)
	}
	if handler == nil {
		return nil, errors.New("nil receive handler")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed.Load() {
		return nil, ErrClosed
	}
	key := linkKey{name: addr.Name, dir: addr.Direction}
	if _, exists := s.receivers[key]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateLink, addr)
	}

	receiver, err := s.transport.NewReceiver(ctx, addr, ReceiverOptions{
		Name:   s.linkName(addr),
		Credit: s.opts.Credit,
	})
	if err != nil {
		return nil, fmt.Errorf("open receiver on %s: %w", addr, err)
	}

	link := &ReceiveLink{
		addr:       addr,
		receiver:   receiver,
		handler:    handler,
		ackMode:    s.opts.AckMode,
		metrics:    s.metrics,
		deliveries: make(chan Delivery, s.opts.Credit),
		done:       make(chan struct{}),
	}
	s.receivers[key] = link

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		link.pump(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		link.consume(s.ctx)
	}()

	logger.Log.Infof("Opened receive link %s (ack mode: %s)", addr, s.opts.AckMode)
	return link, nil
}

func (s *Session) linkName(addr topology.LinkAddress) string {
	name := addr.Name + "-" + addr.Direction.String()
	if s.opts.ContainerID != "" {
		name = s.opts.ContainerID + "-" + name
	}
	return name
}

// Close stops handler invocations, waits for an in-flight handler to return,
// then closes every link, the session and the connection. It is safe to call
// more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mutex.Lock()
	if s.closed.Swap(true) {
		s.mutex.Unlock()
		return nil
	}
	receivers := make([]*ReceiveLink, 0, len(s.receivers))
	for _, r := range s.receivers {
		receivers = append(receivers, r)
	}
	senders := make([]*SendLink, 0, len(s.senders))
	for _, l := range s.senders {
		senders = append(senders, l)
	}
	s.mutex.Unlock()

	s.cancel()

	var errs []error
	done := make(chan struct{})
	go func() {
		for _, r := range receivers {
			r.gate.Lock()
			r.gate.Unlock()
		}
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for receive links: %w", ctx.Err()))
	}

	for _, r := range receivers {
		if err := r.receiver.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close receiver %s: %w", r.addr, err))
		}
	}
	for _, l := range senders {
		if err := l.sender.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close sender %s: %w", l.addr, err))
		}
	}
	if err := s.transport.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close transport: %w", err))
	}

	logger.Log.Info("Broker session closed")
	return errors.Join(errs...)
}

// SendLink sends payloads to one address.
type SendLink struct {
	addr    topology.LinkAddress
	sender  Sender
	session *Session
}

func (l *SendLink) Address() topology.LinkAddress {
	return l.addr
}

// Send hands payload to the broker. On a fire-and-forget link it returns as
// soon as the transfer is written; only local failures are reported.
func (l *SendLink) Send(ctx context.Context, payload []byte) error {
	if l.session.closed.Load() {
		return ErrClosed
	}
	if err := l.sender.Send(ctx, payload); err != nil {
		l.session.metrics.IncSendFailures(l.addr.Name)
		return fmt.Errorf("%w: %s: %w", ErrSendFailure, l.addr.Name, err)
	}
	l.session.metrics.IncSent(l.addr.Name)
	return nil
}

// ReceiveLink feeds one address's messages to a handler. A pump goroutine
// moves deliveries from the transport into a channel and a single consumer
// goroutine drains it, so handler calls for a link never overlap.
type ReceiveLink struct {
	addr       topology.LinkAddress
	receiver   Receiver
	handler    Handler
	ackMode    AckMode
	metrics    Recorder
	deliveries chan Delivery
	done       chan struct{}
	// gate is held while a delivery is settled and handled. Close takes it
	// after cancelling, so no handler can start once Close has begun.
	gate sync.Mutex
}

func (l *ReceiveLink) Address() topology.LinkAddress {
	return l.addr
}

// Done is closed once the consumer has stopped, either because the session
// closed or because the link failed.
func (l *ReceiveLink) Done() <-chan struct{} {
	return l.done
}

func (l *ReceiveLink) pump(ctx context.Context) {
	defer close(l.deliveries)
	for {
		d, err := l.receiver.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Log.Errorf("Receive link %s stopped: %v", l.addr, err)
			}
			return
		}
		l.metrics.IncReceived(l.addr.Name)

		select {
		case l.deliveries <- d:
		case <-ctx.Done():
			release(d)
			return
		}
	}
}

func (l *ReceiveLink) consume(ctx context.Context) {
	defer close(l.done)
	for d := range l.deliveries {
		// Once shutdown has begun no handler may run; hand the rest back.
		if ctx.Err() != nil {
			release(d)
			continue
		}
		l.deliver(ctx, d)
	}
}

func (l *ReceiveLink) deliver(ctx context.Context, d Delivery) {
	l.gate.Lock()
	defer l.gate.Unlock()
	if ctx.Err() != nil {
		release(d)
		return
	}

	if l.ackMode == AckAfterHandle {
		if err := l.invoke(ctx, d.Payload()); err != nil {
			logger.Log.Warnf("Handler failed on %s, releasing message for redelivery: %v", l.addr.Name, err)
			release(d)
			return
		}
		if err := d.Accept(ctx); err != nil {
			logger.Log.Errorf("Accept on %s failed after handling; message may be redelivered: %v", l.addr.Name, err)
		}
		return
	}

	if err := d.Accept(ctx); err != nil {
		logger.Log.Errorf("Accept on %s failed, skipping handler: %v", l.addr.Name, err)
		return
	}
	if ctx.Err() != nil {
		logger.Log.Warnf("Session closing on %s, dropping settled message", l.addr.Name)
		return
	}
	if err := l.invoke(ctx, d.Payload()); err != nil {
		logger.Log.Warnf("Handler failed on %s after settlement, message dropped: %v", l.addr.Name, err)
	}
}

func (l *ReceiveLink) invoke(ctx context.Context, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return l.handler(ctx, payload)
}

func release(d Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := d.Release(ctx); err != nil {
		logger.Log.Debugf("Release failed: %v", err)
	}
}
