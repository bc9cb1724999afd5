// Package dispatch routes decoded commands to player handlers.
package dispatch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wfunc/srtgame/logger"
	"github.com/wfunc/srtgame/protocol"
)

const tracerName = "github.com/wfunc/srtgame/dispatch"

// Handler receives one call per dispatched command.
type Handler interface {
	OnPlayerJoin(ctx context.Context, uuid string) error
	OnPlayerLeave(ctx context.Context, uuid string) error
	OnPlayerInput(ctx context.Context, uuid string, move protocol.Vector2) error
	// OnUnhandled is called for any tag combination without a handler. It
	// cannot fail.
	OnUnhandled(ctx context.Context, tag protocol.Tag)
}

// Recorder receives dispatch counters. monitor.Monitor implements it.
type Recorder interface {
	IncMalformed()
	IncUnhandled()
	ObserveDispatch(tag string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) IncMalformed()                         {}
func (nopRecorder) IncUnhandled()                         {}
func (nopRecorder) ObserveDispatch(string, time.Duration) {}

// Dispatcher has no queue: each command is handled synchronously by the
// caller's goroutine. With one receive link there is one caller, so handlers
// never run concurrently.
type Dispatcher struct {
	handler Handler
	metrics Recorder
	tracer  trace.Tracer
}

// New returns a Dispatcher. metrics may be nil.
func New(handler Handler, metrics Recorder) *Dispatcher {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Dispatcher{
		handler: handler,
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
	}
}

// HandleDelivery decodes payload and dispatches it. It has the signature of
// broker.Handler. Malformed payloads are logged and dropped without error.
func (d *Dispatcher) HandleDelivery(ctx context.Context, payload []byte) error {
	cmd, err := protocol.Decode(payload)
	if err != nil {
		d.metrics.IncMalformed()
		logger.Log.Warnf("Dropping malformed message (%d bytes): %v", len(payload), err)
		return nil
	}
	return d.Dispatch(ctx, cmd)
}

// Dispatch routes cmd on its tag.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd protocol.Command) error {
	tag := tagOf(cmd)
	ctx, span := d.tracer.Start(ctx, "dispatch "+tag.String(),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("srt.command.tag", tag.String())),
	)
	defer span.End()

	start := time.Now()
	err := d.route(ctx, cmd, tag)
	d.metrics.ObserveDispatch(tag.String(), time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (d *Dispatcher) route(ctx context.Context, cmd protocol.Command, tag protocol.Tag) error {
	switch c := cmd.(type) {
	case protocol.SecurityCommand:
		logger.Log.Debugf("Security command %s for %s", c.Action, c.UUID)
		switch c.Action {
		case protocol.SecurityJoin:
			return d.handler.OnPlayerJoin(ctx, c.UUID)
		case protocol.SecurityLeave:
			return d.handler.OnPlayerLeave(ctx, c.UUID)
		}
	case protocol.RawInputCommand:
		switch in := c.Input.(type) {
		case protocol.DualStick:
			return d.handler.OnPlayerInput(ctx, c.UUID, in.Move)
		}
	}

	d.metrics.IncUnhandled()
	logger.Log.Warnf("No handler for command %s", tag)
	d.handler.OnUnhandled(ctx, tag)
	return nil
}

func tagOf(cmd protocol.Command) protocol.Tag {
	if cmd == nil {
		return protocol.Tag{Kind: -1, Variant: "nil"}
	}
	return cmd.Tag()
}
