// Package extraction turns uploaded financial documents into typed,
// user-owned record drafts by way of a remote OCR API.
//
// A call to Extract walks through these stages in order:
//
//	Received → Validating → Submitting → AwaitingResponse →
//	ValidatingResponse → Normalizing → Done
//
// Any stage may exit to Failed with exactly one of ValidationError,
// TransportError, ResponseFormatError or NormalizationError. The pipeline
// makes exactly one outbound call per request, never retries and never
// persists anything.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/config"
	"fintrack/internal/log"
)

// Stage is a step of the extraction state machine.
type Stage string

const (
	StageReceived           Stage = "received"
	StageValidating         Stage = "validating"
	StageSubmitting         Stage = "submitting"
	StageAwaitingResponse   Stage = "awaiting_response"
	StageValidatingResponse Stage = "validating_response"
	StageNormalizing        Stage = "normalizing"
	StageDone               Stage = "done"
	StageFailed             Stage = "failed"
)

// Pipeline is immutable after New and safe for concurrent use.
type Pipeline struct {
	limits    Limits
	timeout   time.Duration
	transport Transport
	logger    *log.Logger
	now       func() time.Time
	newID     func() string
}

type Option func(*Pipeline)

func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) { p.logger = l.WithComponent(log.ComponentExtraction) }
}

// WithClock overrides the time source used for ExtractedAt.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New builds a pipeline from the OCR configuration. Zero values fall back
// to the package defaults so a partially configured pipeline still rejects
// requests instead of panicking.
func New(cfg config.OCRConfig, transport Transport, opts ...Option) (*Pipeline, error) {
	if transport == nil {
		return nil, errors.New("extraction: nil transport")
	}
	if _, err := compiledSchema(); err != nil {
		return nil, fmt.Errorf("extraction: %w", err)
	}

	p := &Pipeline{
		limits: Limits{
			MaxUploadBytes:    cfg.MaxUploadBytes,
			AllowedMediaTypes: cfg.AllowedMediaTypes,
		},
		timeout:   cfg.Timeout,
		transport: transport,
		logger:    log.Discard(),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
	if p.limits.MaxUploadBytes <= 0 {
		p.limits.MaxUploadBytes = config.DefaultOCRMaxUploadBytes
	}
	if len(p.limits.AllowedMediaTypes) == 0 {
		p.limits.AllowedMediaTypes = config.DefaultAllowedMediaTypes
	}
	if p.timeout <= 0 {
		p.timeout = config.DefaultOCRTimeout
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// NewFromConfig wires the HTTP transport described by cfg.
func NewFromConfig(cfg config.OCRConfig, opts ...Option) (*Pipeline, error) {
	t := NewHTTPTransport(HTTPTransportConfig{
		Endpoint:         cfg.Endpoint(),
		APIKey:           cfg.APIKey,
		MaxResponseBytes: cfg.MaxResponseBytes,
	})
	return New(cfg, t, opts...)
}

// MaxUploadBytes is the largest document Extract accepts.
func (p *Pipeline) MaxUploadBytes() int64 {
	return p.limits.MaxUploadBytes
}

// Extract runs one request through the pipeline. On success the record is
// tagged with req.UserID. On failure the error implements Error and the
// record is nil.
func (p *Pipeline) Extract(ctx context.Context, req Request) (*Record, error) {
	start := p.now()
	id := p.newID()
	logger := p.logger.With(log.FieldExtractionID, id)
	stage := StageReceived

	advance := func(next Stage) {
		logger.DebugContext(ctx, "Extraction stage", log.FieldStage, next, "from", stage)
		stage = next
	}
	fail := func(err error) (*Record, error) {
		logger.WarnContext(ctx, "Extraction failed",
			log.FieldStage, stage,
			log.FieldErrorKind, KindOf(err),
			log.FieldError, err,
			log.FieldDuration, time.Since(start).Milliseconds())
		stage = StageFailed
		return nil, err
	}

	advance(StageValidating)
	valid, err := p.limits.validate(req)
	if err != nil {
		return fail(err)
	}
	logger = logger.With(log.FieldUserID, valid.UserID)

	advance(StageSubmitting)
	body, err := p.submit(ctx, valid, func() { advance(StageAwaitingResponse) })
	if err != nil {
		return fail(err)
	}

	advance(StageValidatingResponse)
	raw, err := ValidateResponse(body)
	if err != nil {
		return fail(err)
	}

	advance(StageNormalizing)
	rec, err := Normalize(raw, valid.UserID, valid.Hints.Locale)
	if err != nil {
		return fail(err)
	}
	if want := valid.Hints.ExpectedKind; want != "" && want != rec.Kind {
		rec.Warnings = append(rec.Warnings, fmt.Sprintf("expected %s document, got %s", want, rec.Kind))
	}
	rec.ID = id
	rec.UserID = valid.UserID
	rec.ExtractedAt = p.now().UTC()

	advance(StageDone)
	logger.InfoContext(ctx, "Extraction completed",
		log.FieldRecordKind, rec.Kind,
		log.FieldMediaType, valid.Document.MediaType,
		log.FieldSizeBytes, len(valid.Document.Content),
		"imbalanced", rec.Imbalanced(),
		"warnings", len(rec.Warnings),
		log.FieldDuration, time.Since(start).Milliseconds())
	return rec, nil
}

// submit performs the single outbound call under the configured timeout.
// The derived context is cancelled on return so a stalled call is aborted
// rather than abandoned.
func (p *Pipeline) submit(ctx context.Context, req Request, sent func()) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type result struct {
		body []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := p.transport.Submit(callCtx, req.Document, req.Hints)
		done <- result{body, err}
	}()
	sent()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, asTransportError(callCtx, r.err)
		}
		return r.body, nil
	case <-callCtx.Done():
		err := callCtx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &TransportError{Stage: StageAwaitingResponse, Timeout: true, Err: fmt.Errorf("%w after %s", ErrTimeout, p.timeout)}
		}
		return nil, &TransportError{Stage: StageAwaitingResponse, Err: err}
	}
}

// asTransportError keeps typed errors from the transport and classifies
// anything else as a transport failure.
func asTransportError(ctx context.Context, err error) error {
	var typed Error
	if errors.As(err, &typed) {
		return err
	}
	return classifyTransportErr(ctx, StageAwaitingResponse, err)
}
