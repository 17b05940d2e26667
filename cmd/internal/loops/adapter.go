package loops

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"aegis/cmd/internal/admission"
	"aegis/cmd/internal/sandbox"
)

var (
	// ErrQueueFull rejects an enqueue when the loop's inbound queue is at
	// capacity. The sender decides whether to retry; the loop never blocks.
	ErrQueueFull = errors.New("loop queue full")

	// ErrConfig is returned for invalid adapter construction.
	ErrConfig = errors.New("invalid loop config")
)

// Handler consumes one admitted plaintext. A handler error is logged and
// the message dropped; the loop keeps running.
type Handler func(ctx context.Context, plain []byte) error

// Adapter runs one loop: a bounded inbound queue drained through the
// admission pipeline into the handler.
type Adapter struct {
	kind     Kind
	pipeline *admission.Pipeline
	barrier  *sandbox.Controller
	handler  Handler
	log      *slog.Logger

	queue chan admission.Message
}

// NewAdapter builds the adapter for kind with the given queue depth.
func NewAdapter(
	kind Kind,
	pipeline *admission.Pipeline,
	barrier *sandbox.Controller,
	handler Handler,
	queueDepth int,
	log *slog.Logger,
) (*Adapter, error) {
	if !kind.valid() || pipeline == nil || barrier == nil || handler == nil || log == nil {
		return nil, ErrConfig
	}
	if queueDepth < 1 {
		return nil, ErrConfig
	}
	return &Adapter{
		kind:     kind,
		pipeline: pipeline,
		barrier:  barrier,
		handler:  handler,
		log:      log,
		queue:    make(chan admission.Message, queueDepth),
	}, nil
}

// Kind returns the loop this adapter serves.
func (a *Adapter) Kind() Kind { return a.kind }

// Enqueue offers a message to the loop. Never blocks: a full queue rejects
// with ErrQueueFull.
func (a *Adapter) Enqueue(msg admission.Message) error {
	select {
	case a.queue <- msg:
		return nil
	default:
		a.log.Warn("loop.queue_full", "loop", a.kind)
		return ErrQueueFull
	}
}

// Process admits one message synchronously and hands the plaintext to the
// handler. Used by the run loop and by the websocket gateway, which needs
// the per-message verdict.
func (a *Adapter) Process(ctx context.Context, msg admission.Message, now time.Time) error {
	plain, err := a.pipeline.Admit(ctx, msg, now)
	if err != nil {
		a.log.Info("loop.rejected", "loop", a.kind, "session_id", msg.SessionID, "err", err)
		return err
	}
	if err := a.handler(ctx, plain); err != nil {
		a.log.Error("loop.handler", "loop", a.kind, "err", err)
	}
	return nil
}

// Run reports the loop ready, drains the queue until ctx cancellation,
// then drops readiness. The readiness drop happens before Run returns.
func (a *Adapter) Run(ctx context.Context) {
	if err := a.barrier.ReportReady(string(a.kind), time.Now().UTC()); err != nil {
		a.log.Error("loop.ready", "loop", a.kind, "err", err)
		return
	}
	defer a.barrier.DropReady(string(a.kind))

	a.log.Info("loop.start", "loop", a.kind)
	refresh := time.NewTicker(10 * time.Second)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			a.log.Info("loop.stop", "loop", a.kind)
			return
		case <-refresh.C:
			if err := a.barrier.ReportReady(string(a.kind), time.Now().UTC()); err != nil {
				a.log.Error("loop.ready", "loop", a.kind, "err", err)
			}
		case msg := <-a.queue:
			_ = a.Process(ctx, msg, time.Now().UTC())
		}
	}
}
