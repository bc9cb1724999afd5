// Package brokertest provides an in-memory broker for tests. Queues deliver
// each message to one receiver; topics copy each message to every receiver
// attached when it is sent.
package brokertest

import (
	"context"
	"errors"
	"sync"

	"github.com/wfunc/srtgame/broker"
	"github.com/wfunc/srtgame/topology"
)

const queueDepth = 1024

var ErrTransportClosed = errors.New("brokertest: transport closed")

type Broker struct {
	mutex     sync.Mutex
	queues    map[string]chan *delivery
	topics    map[string][]chan *delivery
	sent      map[string][][]byte
	accepted  int
	released  int
	sendErr   error
	acceptErr error
}

func New() *Broker {
	return &Broker{
		queues: make(map[string]chan *delivery),
		topics: make(map[string][]chan *delivery),
		sent:   make(map[string][][]byte),
	}
}

// Transport returns a new connection to the broker.
func (b *Broker) Transport() *Transport {
	return &Transport{broker: b, closed: make(chan struct{})}
}

// Dialer returns a broker.Dialer that connects to this broker, ignoring the
// endpoint.
func (b *Broker) Dialer() broker.Dialer {
	return func(ctx context.Context, endpoint string, opts broker.Options) (*broker.Session, error) {
		return broker.NewSession(b.Transport(), opts), nil
	}
}

// Publish injects a raw payload as if a remote peer had sent it.
func (b *Broker) Publish(addr topology.LinkAddress, payload []byte) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.route(addr, payload)
}

// Sent returns every payload sent to the named address, in order.
func (b *Broker) Sent(address string) [][]byte {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	out := make([][]byte, len(b.sent[address]))
	copy(out, b.sent[address])
	return out
}

func (b *Broker) Accepted() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.accepted
}

func (b *Broker) Released() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.released
}

// FailSends makes every subsequent send return err. Nil restores sending.
func (b *Broker) FailSends(err error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.sendErr = err
}

// FailAccepts makes every subsequent accept return err.
func (b *Broker) FailAccepts(err error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.acceptErr = err
}

func (b *Broker) queue(name string) chan *delivery {
	q, ok := b.queues[name]
	if !ok {
		q = make(chan *delivery, queueDepth)
		b.queues[name] = q
	}
	return q
}

// route must be called with the mutex held.
func (b *Broker) route(addr topology.LinkAddress, payload []byte) {
	p := append([]byte(nil), payload...)
	b.sent[addr.Name] = append(b.sent[addr.Name], p)

	if addr.Class == topology.AnycastQueue {
		q := b.queue(addr.Name)
		q <- &delivery{broker: b, payload: p, home: q}
		return
	}
	for _, sub := range b.topics[addr.Name] {
		sub <- &delivery{broker: b, payload: p, home: sub}
	}
}

type Transport struct {
	broker    *Broker
	closeOnce sync.Once
	closed    chan struct{}
}

func (t *Transport) NewSender(ctx context.Context, addr topology.LinkAddress, opts broker.SenderOptions) (broker.Sender, error) {
	if t.isClosed() {
		return nil, ErrTransportClosed
	}
	return &sender{transport: t, addr: addr}, nil
}

func (t *Transport) NewReceiver(ctx context.Context, addr topology.LinkAddress, opts broker.ReceiverOptions) (broker.Receiver, error) {
	if t.isClosed() {
		return nil, ErrTransportClosed
	}
	b := t.broker
	b.mutex.Lock()
	defer b.mutex.Unlock()

	var ch chan *delivery
	if addr.Class == topology.AnycastQueue {
		ch = b.queue(addr.Name)
	} else {
		ch = make(chan *delivery, queueDepth)
		b.topics[addr.Name] = append(b.topics[addr.Name], ch)
	}
	return &receiver{transport: t, ch: ch, closed: make(chan struct{})}, nil
}

func (t *Transport) Close(ctx context.Context) error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

type sender struct {
	transport *Transport
	addr      topology.LinkAddress
}

func (s *sender) Send(ctx context.Context, payload []byte) error {
	if s.transport.isClosed() {
		return ErrTransportClosed
	}
	b := s.transport.broker
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.route(s.addr, payload)
	return nil
}

func (s *sender) Close(ctx context.Context) error { return nil }

type receiver struct {
	transport *Transport
	ch        chan *delivery
	closeOnce sync.Once
	closed    chan struct{}
}

func (r *receiver) Receive(ctx context.Context) (broker.Delivery, error) {
	select {
	case d := <-r.ch:
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.closed:
		return nil, ErrTransportClosed
	case <-r.transport.closed:
		return nil, ErrTransportClosed
	}
}

func (r *receiver) Close(ctx context.Context) error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

type delivery struct {
	broker  *Broker
	payload []byte
	home    chan *delivery
}

func (d *delivery) Payload() []byte { return d.payload }

func (d *delivery) Accept(ctx context.Context) error {
	d.broker.mutex.Lock()
	defer d.broker.mutex.Unlock()
	if d.broker.acceptErr != nil {
		return d.broker.acceptErr
	}
	d.broker.accepted++
	return nil
}

func (d *delivery) Release(ctx context.Context) error {
	d.broker.mutex.Lock()
	d.broker.released++
	d.broker.mutex.Unlock()

	select {
	case d.home <- d:
	default:
	}
	return nil
}
