package settled

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"contentpay/core/state"
	"contentpay/native/settlement"
	"contentpay/observability"
	"contentpay/observability/logging"
)

// ErrProcessorPaused is returned when a purchase arrives while settlement is paused.
var ErrProcessorPaused = errors.New("settled: processor paused")

// Processor runs the settlement engine against the ledger, one atomic
// ledger transaction per purchase.
type Processor struct {
	engine  *settlement.Engine
	ledger  *state.Manager
	metrics *observability.SettlementMetrics
	logger  *slog.Logger
	tracer  trace.Tracer
	settles metric.Int64Counter
	now     func() time.Time

	mu      sync.Mutex
	paused  bool
	settled uint64
	failed  uint64
}

// ProcessorOption customises the processor instance.
type ProcessorOption func(*Processor)

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.SettlementMetrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = logger }
}

// WithClock sets the function used to measure settlement latency.
func WithClock(clock func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = clock }
}

// NewProcessor constructs a processor settling against ledger.
func NewProcessor(engine *settlement.Engine, ledger *state.Manager, opts ...ProcessorOption) *Processor {
	proc := &Processor{
		engine:  engine,
		ledger:  ledger,
		metrics: observability.Settlements(),
		logger:  slog.Default(),
		tracer:  otel.Tracer("settled"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(proc)
	}
	if proc.logger == nil {
		proc.logger = slog.Default()
	}
	if proc.now == nil {
		proc.now = time.Now
	}
	counter, err := otel.Meter("settled").Int64Counter("settlement.attempts",
		metric.WithDescription("Settlement attempts by currency and outcome."))
	if err == nil {
		proc.settles = counter
	}
	return proc
}

// Settle validates and settles one purchase. Either every transfer and the
// audit record are committed, or nothing is.
func (p *Processor) Settle(ctx context.Context, req settlement.PurchaseRequest) (*settlement.SettlementRecord, error) {
	if p.engine == nil || p.ledger == nil {
		return nil, fmt.Errorf("settled: processor not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	paused := p.paused
	p.mu.Unlock()
	if paused {
		return nil, ErrProcessorPaused
	}

	currency := settlement.CurrencyNative.String()
	if !req.Asset.IsNative() {
		currency = settlement.CurrencyToken.String()
	}
	ctx, span := p.tracer.Start(ctx, "settlement.settle", trace.WithAttributes(
		attribute.String("purchase.id", req.PurchaseID),
		attribute.String("settlement.currency", currency),
	))
	defer span.End()

	start := p.now()
	var record *settlement.SettlementRecord
	err := p.ledger.Atomic(func(tx *state.Tx) error {
		var err error
		record, err = p.engine.Settle(tx, req)
		return err
	})
	elapsed := p.now().Sub(start)

	if err != nil {
		kind := settlement.ErrorKind(err)
		if kind == "" {
			kind = "Internal"
		}
		p.metrics.RecordOutcome(currency, kind, elapsed)
		p.countAttempt(ctx, currency, kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		p.mu.Lock()
		p.failed++
		p.mu.Unlock()
		p.logger.WarnContext(ctx, "settlement rejected",
			"purchaseId", req.PurchaseID,
			"contentId", req.ContentID,
			logging.MaskField("payer", fmt.Sprintf("%x", req.Payer)),
			"outcome", kind,
			"error", err)
		return nil, err
	}

	p.metrics.RecordOutcome(currency, "settled", elapsed)
	p.countAttempt(ctx, currency, "settled")
	p.metrics.RecordShare(currency, string(settlement.BeneficiaryReferrer), record.ReferrerFee)
	p.metrics.RecordShare(currency, string(settlement.BeneficiaryPlatform), record.PlatformFee)
	p.metrics.RecordShare(currency, string(settlement.BeneficiaryCreator), record.CreatorAmount)
	span.SetAttributes(attribute.Int64("settlement.sequence", int64(record.Sequence)))
	p.mu.Lock()
	p.settled++
	p.mu.Unlock()
	p.logger.InfoContext(ctx, "purchase settled",
		"purchaseId", record.PurchaseID,
		"contentId", record.ContentID,
		logging.MaskField("payer", fmt.Sprintf("%x", record.Payer)),
		"currency", record.Currency.String(),
		"sequence", record.Sequence,
		"amount", record.Amount)
	return record, nil
}

func (p *Processor) countAttempt(ctx context.Context, currency, outcome string) {
	if p.settles == nil {
		return
	}
	p.settles.Add(ctx, 1, metric.WithAttributes(
		attribute.String("currency", currency),
		attribute.String("outcome", outcome),
	))
}

// Pause stops new settlements until Resume is called.
func (p *Processor) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume re-enables settlement.
func (p *Processor) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
}

// Status summarises the processor for operators.
type Status struct {
	Paused       bool   `json:"paused"`
	Settled      uint64 `json:"settled"`
	Failed       uint64 `json:"failed"`
	SequenceHead uint64 `json:"sequenceHead"`
}

// Status reports the processor counters and the ledger sequence head.
func (p *Processor) Status() (Status, error) {
	head, err := p.ledger.SequenceHead()
	if err != nil {
		return Status{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{Paused: p.paused, Settled: p.settled, Failed: p.failed, SequenceHead: head}, nil
}
