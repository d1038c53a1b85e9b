package gateway

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"peppolrelay/internal/document/models"
	"peppolrelay/internal/gateway/metrics"
	"peppolrelay/pkg/domain"
	"peppolrelay/pkg/platform/circuit"
)

const tracerName = "peppolrelay/gateway"

// Instrumented decorates a Gateway with tracing, metrics and a circuit
// breaker. While the circuit is open status polls report unknown and
// registrations fail with a retryable error. Sends return an empty tracking
// id, the retry-later answer otherwise reserved for the provider, so the
// scheduler backs off instead of failing every due document.
type Instrumented struct {
	next    Gateway
	tracer  trace.Tracer
	breaker *circuit.Breaker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type InstrumentOption func(*Instrumented)

func WithTracer(t trace.Tracer) InstrumentOption {
	return func(i *Instrumented) {
		i.tracer = t
	}
}

func WithBreaker(b *circuit.Breaker) InstrumentOption {
	return func(i *Instrumented) {
		i.breaker = b
	}
}

func WithMetrics(m *metrics.Metrics) InstrumentOption {
	return func(i *Instrumented) {
		i.metrics = m
	}
}

func WithLogger(logger *slog.Logger) InstrumentOption {
	return func(i *Instrumented) {
		i.logger = logger
	}
}

// Instrument wraps g. The result still implements Receiver when g does.
func Instrument(g Gateway, opts ...InstrumentOption) Gateway {
	i := &Instrumented{
		next:   g,
		tracer: otel.Tracer(tracerName),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.breaker == nil {
		i.breaker = circuit.New(string(g.ID()))
	}
	if r, ok := g.(Receiver); ok {
		return &instrumentedReceiver{Instrumented: i, receiver: r}
	}
	return i
}

func (i *Instrumented) ID() domain.AccessPoint {
	return i.next.ID()
}

// Unwrap returns the decorated gateway.
func (i *Instrumented) Unwrap() Gateway {
	return i.next
}

func (i *Instrumented) Register(ctx context.Context, participantID string, req RegistrationRequest) (Variables, error) {
	ctx, span := i.start(ctx, "Register", attribute.String("participant.id", participantID))
	defer span.End()

	if !i.breaker.Allow() {
		return nil, i.circuitOpen(span)
	}

	start := time.Now()
	vars, err := i.next.Register(ctx, participantID, req)
	if err != nil {
		i.fail(ctx, span, "register", start, err)
		return nil, err
	}
	i.succeed("register", start)
	if i.metrics != nil {
		i.metrics.IncrementRegistered(i.ID().String())
	}
	return vars, nil
}

func (i *Instrumented) Unregister(ctx context.Context, participantID string, vars Variables) error {
	ctx, span := i.start(ctx, "Unregister", attribute.String("participant.id", participantID))
	defer span.End()

	if !i.breaker.Allow() {
		return i.circuitOpen(span)
	}

	start := time.Now()
	if err := i.next.Unregister(ctx, participantID, vars); err != nil {
		i.fail(ctx, span, "unregister", start, err)
		return err
	}
	i.succeed("unregister", start)
	if i.metrics != nil {
		i.metrics.IncrementUnregistered(i.ID().String())
	}
	return nil
}

func (i *Instrumented) SendDocument(ctx context.Context, doc *models.Document) (string, error) {
	ctx, span := i.start(ctx, "SendDocument", attribute.String("document.id", doc.ID.String()))
	defer span.End()

	if !i.breaker.Allow() {
		span.AddEvent("circuit open, postponing")
		i.logger.WarnContext(ctx, "access point circuit open, postponing send",
			"gateway", i.ID(),
			"document_id", doc.ID,
		)
		return "", nil
	}

	start := time.Now()
	trackingID, err := i.next.SendDocument(ctx, doc)
	if err != nil {
		i.fail(ctx, span, "send", start, err)
		return "", err
	}
	i.succeed("send", start)
	if trackingID == "" {
		span.AddEvent("postponed by access point")
		return "", nil
	}
	span.SetAttributes(attribute.String("tracking.id", trackingID))
	if i.metrics != nil {
		i.metrics.IncrementDocumentsSent(i.ID().String())
	}
	return trackingID, nil
}

func (i *Instrumented) GetStatus(ctx context.Context, doc *models.Document) (*StatusReport, error) {
	ctx, span := i.start(ctx, "GetStatus", attribute.String("document.id", doc.ID.String()))
	defer span.End()

	if !i.breaker.Allow() {
		span.AddEvent("circuit open, status unknown")
		return nil, nil
	}

	start := time.Now()
	report, err := i.next.GetStatus(ctx, doc)
	if err != nil {
		i.fail(ctx, span, "status", start, err)
		return nil, err
	}
	i.succeed("status", start)
	if report != nil {
		span.SetAttributes(attribute.Bool("status.success", report.Success))
	}
	return report, nil
}

func (i *Instrumented) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("gateway", i.ID().String()))
	return i.tracer.Start(ctx, "gateway."+op, trace.WithAttributes(attrs...))
}

func (i *Instrumented) circuitOpen(span trace.Span) error {
	err := NewError(ErrorUnavailable, i.ID(), "circuit open", nil)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (i *Instrumented) succeed(op string, start time.Time) {
	if _, change := i.breaker.RecordSuccess(); change.Closed {
		i.logger.Info("access point circuit closed", "gateway", i.ID())
	}
	if i.metrics != nil {
		i.metrics.ObserveCall(i.ID().String(), op, "success", start)
	}
}

// fail only counts provider health failures (timeouts, outages, rate limits)
// against the breaker; rejected requests say nothing about availability.
func (i *Instrumented) fail(ctx context.Context, span trace.Span, op string, start time.Time, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if i.metrics != nil {
		i.metrics.ObserveCall(i.ID().String(), op, string(CategoryOf(err)), start)
	}
	if !IsRetryable(err) {
		return
	}
	if _, change := i.breaker.RecordFailure(); change.Opened {
		i.logger.WarnContext(ctx, "access point circuit opened",
			"gateway", i.ID(),
			"error", err,
		)
		if i.metrics != nil {
			i.metrics.IncrementCircuitOpened(i.ID().String())
		}
	}
}

type instrumentedReceiver struct {
	*Instrumented
	receiver Receiver
}

func (r *instrumentedReceiver) ReceiveDocuments(ctx context.Context) error {
	ctx, span := r.start(ctx, "ReceiveDocuments")
	defer span.End()

	if !r.breaker.Allow() {
		span.AddEvent("circuit open, skipping poll")
		return nil
	}

	start := time.Now()
	if err := r.receiver.ReceiveDocuments(ctx); err != nil {
		r.fail(ctx, span, "receive", start, err)
		return err
	}
	r.succeed("receive", start)
	return nil
}
