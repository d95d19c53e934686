package anchor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"civicwatch/internal/integrity/metrics"
	"civicwatch/internal/integrity/models"
	"civicwatch/pkg/platform/circuit"
	"civicwatch/pkg/platform/sentinel"
)

const (
	DefaultPublishTimeout = 10 * time.Second
	releaseTimeout        = 2 * time.Second

	// DefaultCompleteRetries is how many times a failed ledger completion is
	// retried after a successful publish.
	DefaultCompleteRetries = 4
	DefaultCompleteBackoff = 200 * time.Millisecond
)

// Dispatcher runs anchoring attempts in the background.
type Dispatcher struct {
	publisher Publisher
	ledger    Ledger
	breaker   *circuit.Breaker
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	inflight  sync.WaitGroup

	completeRetries uint64
	completeBackoff time.Duration

	// unrecorded holds references of digests this process published but could
	// not mark anchored in the ledger. Such a digest is never published again.
	mu         sync.Mutex
	unrecorded map[string]string
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(d *Dispatcher) {
		if b != nil {
			d.breaker = b
		}
	}
}

// WithPublishTimeout bounds a single background attempt.
func WithPublishTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithCompleteRetry sets how often, and from what initial interval, a failed
// ledger completion is retried.
func WithCompleteRetry(retries uint64, initial time.Duration) Option {
	return func(d *Dispatcher) {
		d.completeRetries = retries
		if initial > 0 {
			d.completeBackoff = initial
		}
	}
}

func NewDispatcher(publisher Publisher, ledger Ledger, opts ...Option) (*Dispatcher, error) {
	if publisher == nil {
		return nil, errors.New("anchor: publisher is required")
	}
	if ledger == nil {
		return nil, errors.New("anchor: ledger is required")
	}
	d := &Dispatcher{
		publisher: publisher,
		ledger:    ledger,
		breaker:   circuit.New("anchor"),
		timeout:   DefaultPublishTimeout,

		completeRetries: DefaultCompleteRetries,
		completeBackoff: DefaultCompleteBackoff,
		unrecorded:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch starts anchoring dg and returns immediately. The channel receives
// exactly one Result and is then closed; callers may ignore it. The attempt
// is detached from ctx's cancellation so a finished request does not abort
// publication, but it keeps ctx's values.
func (d *Dispatcher) Dispatch(ctx context.Context, dg models.Digest) <-chan Result {
	out := make(chan Result, 1)
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer close(out)
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		out <- d.Anchor(actx, dg)
	}()
	return out
}

// Wait blocks until every dispatched attempt has finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// Anchor performs one attempt synchronously.
func (d *Dispatcher) Anchor(ctx context.Context, dg models.Digest) Result {
	res := d.anchor(ctx, dg)
	d.metrics.IncAnchorOutcome(string(res.Status))
	if d.logger != nil {
		switch res.Status {
		case StatusFailed:
			d.logger.WarnContext(ctx, "anchor publish failed",
				"hash", dg.Hash,
				"error", res.Err,
			)
		default:
			d.logger.InfoContext(ctx, "anchor attempt finished",
				"hash", dg.Hash,
				"status", res.Status,
				"reference", res.Reference,
			)
		}
	}
	return res
}

func (d *Dispatcher) anchor(ctx context.Context, dg models.Digest) Result {
	res := Result{Digest: dg}

	if ref, ok := d.pendingRecord(dg.Hash); ok {
		// Published earlier by this process; only the ledger entry is missing.
		d.record(ctx, dg.Hash, ref)
		res.Status, res.Reference = StatusAlreadyAnchored, ref
		return res
	}

	ref, err := d.ledger.Claim(ctx, dg.Hash)
	switch {
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		res.Status, res.Reference = StatusAlreadyAnchored, ref
		return res
	case errors.Is(err, sentinel.ErrInFlight):
		res.Status = StatusInFlight
		return res
	case err != nil:
		res.Status, res.Err = StatusFailed, err
		return res
	}

	if !d.breaker.Allow() {
		d.release(ctx, dg.Hash)
		res.Status, res.Err = StatusFailed, ErrCircuitOpen
		return res
	}

	ref, err = d.publisher.Publish(ctx, dg)
	if err != nil {
		if _, change := d.breaker.RecordFailure(); change.Opened && d.logger != nil {
			d.logger.WarnContext(ctx, "anchor circuit opened", "breaker", d.breaker.Name())
		}
		d.release(ctx, dg.Hash)
		res.Status, res.Err = StatusFailed, err
		return res
	}
	if _, change := d.breaker.RecordSuccess(); change.Closed && d.logger != nil {
		d.logger.InfoContext(ctx, "anchor circuit closed", "breaker", d.breaker.Name())
	}

	d.record(ctx, dg.Hash, ref)
	res.Status, res.Reference = StatusAnchored, ref
	return res
}

// record marks hash anchored at ref, retrying with exponential backoff. When
// every attempt fails the reference is kept in memory so a later attempt for
// the same digest completes the ledger instead of publishing again.
func (d *Dispatcher) record(ctx context.Context, hash, ref string) {
	cctx := context.WithoutCancel(ctx)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.completeBackoff
	b.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		err := d.ledger.Complete(cctx, hash, ref)
		if errors.Is(err, sentinel.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, d.completeRetries), cctx))

	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.unrecorded, hash)
		return
	}
	d.unrecorded[hash] = ref
	if d.logger != nil {
		d.logger.ErrorContext(ctx, "anchor ledger completion failed",
			"hash", hash,
			"reference", ref,
			"error", err,
		)
	}
}

func (d *Dispatcher) pendingRecord(hash string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ref, ok := d.unrecorded[hash]
	return ref, ok
}

func (d *Dispatcher) release(ctx context.Context, hash string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := d.ledger.Release(rctx, hash); err != nil && d.logger != nil {
		d.logger.ErrorContext(ctx, "anchor claim release failed", "hash", hash, "error", err)
	}
}
