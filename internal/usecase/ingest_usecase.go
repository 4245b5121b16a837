package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dakota002/gcn.nasa.gov/internal/domain/entity"
	"github.com/dakota002/gcn.nasa.gov/internal/metrics"
	"github.com/dakota002/gcn.nasa.gov/internal/policy"
	"github.com/dakota002/gcn.nasa.gov/internal/validation"
	"github.com/dakota002/gcn.nasa.gov/pkg/logger"
)

// ErrNotConfigured aborts a whole batch before any item is processed.
var ErrNotConfigured = errors.New("ingestion is not configured")

// ObjectStore defines the interface for reading raw submissions
type ObjectStore interface {
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
}

// MessageParser defines the interface for decoding raw emails
type MessageParser interface {
	Parse(raw []byte) (*entity.ParsedMessage, error)
}

// PolicyValidator defines the format and authorization checks
type PolicyValidator interface {
	CheckFormat(msg *entity.ParsedMessage) error
	Authorize(ctx context.Context, email string) (*entity.SubmitterIdentity, error)
}

// Allocator defines the interface for assigning identifiers and storing circulars
type Allocator interface {
	Validate() error
	AllocateAndStore(ctx context.Context, record *entity.Circular) (uint64, error)
}

// Notifier defines the submitter-facing emails
type Notifier interface {
	NotifyInvalidFormat(ctx context.Context, recipient string) error
	NotifyMissingPermission(ctx context.Context, recipient string) error
	NotifySuccess(ctx context.Context, recipient string, circularID uint64) error
}

// CircularPublisher announces created circulars to downstream consumers
type CircularPublisher interface {
	PublishCircular(ctx context.Context, circular *entity.Circular) error
}

// FaultReporter records faulted events outside the process so they can be
// inspected and redriven
type FaultReporter interface {
	PublishFault(ctx context.Context, fault *entity.FaultRecord) error
}

// Pinger is a dependency that can report its health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Outcome is the terminal state of one batch item
type Outcome string

const (
	OutcomeSuccess            Outcome = metrics.OutcomeSuccess
	OutcomeRejectedFormat     Outcome = metrics.OutcomeRejectedFormat
	OutcomeRejectedPermission Outcome = metrics.OutcomeRejectedPermission
	OutcomeFault              Outcome = metrics.OutcomeFault
	OutcomeSkipped            Outcome = metrics.OutcomeSkipped
)

// Result is the outcome of processing one event
type Result struct {
	Event      entity.IncomingEvent
	Outcome    Outcome
	CircularID uint64
	Err        error
}

// ItemFault is an unexpected failure while processing one event. CircularID
// is set when the circular was stored before the failure.
type ItemFault struct {
	Event      entity.IncomingEvent
	CircularID uint64
	Err        error
}

func (f *ItemFault) Error() string {
	return fmt.Sprintf("%s: %v", f.Event, f.Err)
}

func (f *ItemFault) Unwrap() error {
	return f.Err
}

// BatchError is returned after every item settled and at least one faulted.
// Rejections never appear here.
type BatchError struct {
	BatchID string
	Faults  []*ItemFault
}

func (e *BatchError) Error() string {
	msgs := make([]string, len(e.Faults))
	for i, f := range e.Faults {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("batch %s: %d item(s) failed: %s", e.BatchID, len(e.Faults), strings.Join(msgs, "; "))
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Faults))
	for i, f := range e.Faults {
		errs[i] = f
	}
	return errs
}

type namedPinger struct {
	name   string
	pinger Pinger
}

// Option configures optional collaborators
type Option func(*IngestUseCase)

// WithPublisher publishes every created circular. Publish failures are logged only.
func WithPublisher(p CircularPublisher) Option {
	return func(uc *IngestUseCase) {
		uc.publisher = p
	}
}

// WithFaultReporter reports every faulted event after the batch settles.
// Report failures are logged only.
func WithFaultReporter(r FaultReporter) Option {
	return func(uc *IngestUseCase) {
		uc.faults = r
	}
}

// WithClock overrides the time source used for createdOn
func WithClock(now func() time.Time) Option {
	return func(uc *IngestUseCase) {
		uc.now = now
	}
}

// WithHealthCheck adds a dependency to HealthCheck
func WithHealthCheck(name string, p Pinger) Option {
	return func(uc *IngestUseCase) {
		uc.health = append(uc.health, namedPinger{name: name, pinger: p})
	}
}

// IngestUseCase turns storage events into Circulars
type IngestUseCase struct {
	objects   ObjectStore
	parser    MessageParser
	policy    PolicyValidator
	allocator Allocator
	notifier  Notifier
	publisher CircularPublisher
	faults    FaultReporter
	health    []namedPinger
	now       func() time.Time
	logger    *logger.Logger
}

// NewIngestUseCase creates a new ingestion use case
func NewIngestUseCase(
	objects ObjectStore,
	parser MessageParser,
	validator PolicyValidator,
	allocator Allocator,
	notifier Notifier,
	log *logger.Logger,
	opts ...Option,
) *IngestUseCase {
	uc := &IngestUseCase{
		objects:   objects,
		parser:    parser,
		policy:    validator,
		allocator: allocator,
		notifier:  notifier,
		now:       time.Now,
		logger:    log,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// HandleBatch processes every ObjectCreated:Put event concurrently and waits
// for all of them. It returns *BatchError when any item faulted.
func (uc *IngestUseCase) HandleBatch(ctx context.Context, events []entity.IncomingEvent) error {
	batchID := uuid.NewString()
	start := time.Now()
	defer func() {
		metrics.BatchDuration.Observe(time.Since(start).Seconds())
	}()

	log := uc.logger.WithField("batch_id", batchID)

	if err := uc.allocator.Validate(); err != nil {
		log.Error("Batch aborted: allocator is not configured", logger.Error(err))
		metrics.BatchFailures.Inc()
		return fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}

	qualifying := make([]entity.IncomingEvent, 0, len(events))
	for _, ev := range events {
		if !ev.IsObjectCreatedPut() {
			metrics.EventsTotal.WithLabelValues(string(OutcomeSkipped)).Inc()
			log.Debug("Skipping event",
				logger.String("event_name", ev.EventName),
				logger.String("object", ev.String()),
			)
			continue
		}
		qualifying = append(qualifying, ev)
	}

	log.Info("Processing batch",
		logger.Int("events", len(events)),
		logger.Int("qualifying", len(qualifying)),
	)

	results := make([]Result, len(qualifying))
	var wg sync.WaitGroup
	for i, ev := range qualifying {
		wg.Add(1)
		go func(i int, ev entity.IncomingEvent) {
			defer wg.Done()
			results[i] = uc.handleIsolated(ctx, log, ev)
		}(i, ev)
	}
	wg.Wait()

	var faults []*ItemFault
	for _, r := range results {
		if r.Outcome == OutcomeFault {
			faults = append(faults, &ItemFault{Event: r.Event, CircularID: r.CircularID, Err: r.Err})
		}
	}

	if len(faults) > 0 {
		metrics.BatchFailures.Inc()
		log.Error("Batch finished with faults",
			logger.Int("faults", len(faults)),
			logger.Int("items", len(results)),
		)
		uc.reportFaults(ctx, log, batchID, faults)
		return &BatchError{BatchID: batchID, Faults: faults}
	}

	log.Info("Batch finished",
		logger.Int("items", len(results)),
		logger.Duration("duration", time.Since(start)),
	)
	return nil
}

func (uc *IngestUseCase) reportFaults(ctx context.Context, log *logger.Logger, batchID string, faults []*ItemFault) {
	if uc.faults == nil {
		return
	}

	failedOn := uc.now().UnixMilli()
	for _, f := range faults {
		record := &entity.FaultRecord{
			BatchID:    batchID,
			Bucket:     f.Event.Bucket,
			Key:        f.Event.Key,
			EventName:  f.Event.EventName,
			CircularID: f.CircularID,
			Error:      f.Err.Error(),
			FailedOn:   failedOn,
		}
		if err := uc.faults.PublishFault(ctx, record); err != nil {
			metrics.FaultReportErrors.Inc()
			log.Error("Failed to report fault",
				logger.String("object", f.Event.String()),
				logger.Error(err),
			)
		}
	}
}

// handleIsolated turns a panic in one item into a fault of that item
func (uc *IngestUseCase) handleIsolated(ctx context.Context, log *logger.Logger, ev entity.IncomingEvent) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic while processing event",
				logger.String("object", ev.String()),
				logger.String("panic", fmt.Sprint(r)),
			)
			metrics.EventsTotal.WithLabelValues(string(OutcomeFault)).Inc()
			result = Result{Event: ev, Outcome: OutcomeFault, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return uc.handleEvent(ctx, log, ev)
}

// HandleEvent runs a single event through the pipeline and reports its
// outcome. Non-Put events are skipped.
func (uc *IngestUseCase) HandleEvent(ctx context.Context, ev entity.IncomingEvent) Result {
	if !ev.IsObjectCreatedPut() {
		metrics.EventsTotal.WithLabelValues(string(OutcomeSkipped)).Inc()
		return Result{Event: ev, Outcome: OutcomeSkipped}
	}
	if err := uc.allocator.Validate(); err != nil {
		return Result{Event: ev, Outcome: OutcomeFault, Err: fmt.Errorf("%w: %v", ErrNotConfigured, err)}
	}
	return uc.handleEvent(ctx, uc.logger, ev)
}

func (uc *IngestUseCase) handleEvent(ctx context.Context, log *logger.Logger, ev entity.IncomingEvent) Result {
	log = log.WithFields(map[string]interface{}{
		"bucket": ev.Bucket,
		"key":    ev.Key,
	})

	outcome, id, err := uc.process(ctx, log, ev)
	metrics.EventsTotal.WithLabelValues(string(outcome)).Inc()

	if err != nil {
		log.Error("Event failed", logger.Error(err))
	}
	return Result{Event: ev, Outcome: outcome, CircularID: id, Err: err}
}

func (uc *IngestUseCase) process(ctx context.Context, log *logger.Logger, ev entity.IncomingEvent) (Outcome, uint64, error) {
	raw, err := uc.objects.GetObject(ctx, ev.Bucket, ev.Key)
	if err != nil {
		return OutcomeFault, 0, fmt.Errorf("failed to fetch object: %w", err)
	}

	msg, err := uc.parser.Parse(raw)
	if err != nil {
		return OutcomeFault, 0, fmt.Errorf("failed to parse message: %w", err)
	}

	log = log.WithField("sender", msg.From)

	if err := uc.policy.CheckFormat(msg); err != nil {
		if !errors.Is(err, policy.ErrInvalidFormat) {
			return OutcomeFault, 0, fmt.Errorf("failed to check format: %w", err)
		}
		log.Info("Submission rejected: invalid format", logger.String("subject", msg.Subject))
		if err := uc.notifier.NotifyInvalidFormat(ctx, msg.From); err != nil {
			return OutcomeFault, 0, err
		}
		return OutcomeRejectedFormat, 0, nil
	}

	identity, err := uc.policy.Authorize(ctx, msg.From)
	if err != nil {
		if !errors.Is(err, policy.ErrNotSubmitter) {
			return OutcomeFault, 0, fmt.Errorf("failed to authorize sender: %w", err)
		}
		log.Info("Submission rejected: sender is not a submitter")
		if err := uc.notifier.NotifyMissingPermission(ctx, msg.From); err != nil {
			return OutcomeFault, 0, err
		}
		return OutcomeRejectedPermission, 0, nil
	}

	circular := entity.NewCircular(msg, identity, validation.FormatAuthor(identity), uc.now())

	id, err := uc.allocator.AllocateAndStore(ctx, circular)
	if err != nil {
		return OutcomeFault, 0, fmt.Errorf("failed to store circular: %w", err)
	}

	log.Info("Circular created",
		logger.Uint64("circular_id", id),
		logger.String("subject", circular.Subject),
	)

	if uc.publisher != nil {
		if err := uc.publisher.PublishCircular(ctx, circular); err != nil {
			metrics.PublishErrors.Inc()
			log.Warn("Failed to publish circular",
				logger.Uint64("circular_id", id),
				logger.Error(err),
			)
		}
	}

	if err := uc.notifier.NotifySuccess(ctx, msg.From, id); err != nil {
		return OutcomeFault, id, fmt.Errorf("circular %d created but confirmation failed: %w", id, err)
	}

	return OutcomeSuccess, id, nil
}

// HealthCheck checks if all dependencies are healthy
func (uc *IngestUseCase) HealthCheck(ctx context.Context) error {
	if err := uc.allocator.Validate(); err != nil {
		return fmt.Errorf("allocator unhealthy: %w", err)
	}
	for _, h := range uc.health {
		if err := h.pinger.Ping(ctx); err != nil {
			return fmt.Errorf("%s unhealthy: %w", h.name, err)
		}
	}
	return nil
}
