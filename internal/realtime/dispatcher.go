package realtime

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Report summarizes one dispatch call.
type Report struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

type DispatcherOptions struct {
	// SendTimeout bounds a single connection's hand-off.
	SendTimeout time.Duration
	// Parallelism caps concurrent hand-offs within one dispatch.
	Parallelism int
}

func DefaultDispatcherOptions() DispatcherOptions {
	return DispatcherOptions{
		SendTimeout: 2 * time.Second,
		Parallelism: 64,
	}
}

// Dispatcher resolves a Target against the Registry and pushes a payload
// to every resolved connection, at most once and best-effort.
type Dispatcher struct {
	registry *Registry
	opts     DispatcherOptions
	logger   zerolog.Logger
}

func NewDispatcher(registry *Registry, opts DispatcherOptions, logger zerolog.Logger) *Dispatcher {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	return &Dispatcher{
		registry: registry,
		opts:     opts,
		logger:   logger,
	}
}

// Resolve returns the live connections a target addresses right now.
func (d *Dispatcher) Resolve(target Target) []Conn {
	if target.Kind == TargetAll {
		return d.registry.Snapshot()
	}
	return d.registry.Members(target.GroupKey())
}

// Dispatch delivers payload to every connection resolved for target.
// Individual failures are logged and counted; they never abort the batch
// and Dispatch itself never fails.
func (d *Dispatcher) Dispatch(ctx context.Context, target Target, payload []byte) Report {
	conns := d.Resolve(target)
	report := Report{Attempted: len(conns)}
	if len(conns) == 0 {
		return report
	}

	var delivered, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(d.opts.Parallelism)

	for _, c := range conns {
		g.Go(func() error {
			if err := d.deliver(ctx, c, payload); err != nil {
				failed.Add(1)
				d.logger.Warn().
					Err(err).
					Str("conn_id", c.ID()).
					Str("target", target.String()).
					Msg("delivery failed")
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	report.Delivered = int(delivered.Load())
	report.Failed = int(failed.Load())
	return report
}

// SendTo delivers payload to a single connection, bypassing group
// resolution. Used for per-connection replies such as the welcome message.
func (d *Dispatcher) SendTo(ctx context.Context, conn Conn, payload []byte) error {
	return d.deliver(ctx, conn, payload)
}

func (d *Dispatcher) deliver(ctx context.Context, c Conn, payload []byte) (err error) {
	if d.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.SendTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Str("conn_id", c.ID()).Msg("connection send panicked")
			err = ErrConnectionClosed
		}
	}()

	return c.Send(ctx, payload)
}
