package dispatch

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/wharf/pkg/httputil"
	"github.com/platinummonkey/wharf/pkg/observability"
	"github.com/platinummonkey/wharf/pkg/plugins"
)

const tracerName = "github.com/platinummonkey/wharf/pkg/dispatch"

// errPanic marks a recovered middleware panic
var errPanic = errors.New("middleware panicked")

// Dispatcher routes each request to the first middleware willing to handle
// it. Middleware is consulted in initialization order, so a load-last
// plugin is the natural fallback.
type Dispatcher struct {
	middleware   []plugins.NamedMiddleware
	meta         *plugins.EnvironmentMetadata
	log          *logrus.Logger
	metrics      *observability.Metrics
	otelMetrics  *observability.OTelMetrics
	tracer       trace.Tracer
	cacheWriter  *CacheWriter
	captureLimit int
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithMetrics records dispatch metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithOTelMetrics mirrors dispatch metrics to OpenTelemetry instruments
func WithOTelMetrics(m *observability.OTelMetrics) Option {
	return func(d *Dispatcher) {
		d.otelMetrics = m
	}
}

// WithTracerProvider sets where dispatch spans go. The global provider is
// used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) {
		d.tracer = tp.Tracer(tracerName)
	}
}

// WithCacheWriter stores successful GET responses in the selected cache
func WithCacheWriter(w *CacheWriter) Option {
	return func(d *Dispatcher) {
		d.cacheWriter = w
	}
}

// WithCaptureLimit bounds how many body bytes are kept per response
func WithCaptureLimit(limit int) Option {
	return func(d *Dispatcher) {
		d.captureLimit = limit
	}
}

// New creates a dispatcher over middleware, which must already be in
// initialization order
func New(middleware []plugins.NamedMiddleware, meta *plugins.EnvironmentMetadata, log *logrus.Logger, opts ...Option) *Dispatcher {
	if log == nil {
		log = logrus.New()
	}
	d := &Dispatcher{
		middleware:   append([]plugins.NamedMiddleware(nil), middleware...),
		meta:         meta,
		log:          log,
		tracer:       otel.Tracer(tracerName),
		captureLimit: 1 << 20,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewFromRuntime creates a dispatcher over an initialized runtime
func NewFromRuntime(rt *plugins.Runtime, log *logrus.Logger, opts ...Option) *Dispatcher {
	return New(rt.Middleware(), rt.Metadata(), log, opts...)
}

// Dispatch offers rc to each middleware in turn. It returns the id of the
// middleware that handled the request together with the error its Handle
// returned. ErrUnhandled means nobody accepted the request.
func (d *Dispatcher) Dispatch(rc *plugins.RequestContext) (string, error) {
	for _, m := range d.middleware {
		should, err := shouldHandle(m.Middleware, rc)
		if err != nil {
			return m.ID, err
		}
		if !should {
			continue
		}
		return m.ID, handle(m.Middleware, rc)
	}
	return "", plugins.ErrUnhandled
}

// ServeHTTP dispatches r and turns a middleware failure into a response
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	requestID := httputil.RequestID(r.Context())
	if requestID == "" {
		requestID = uuid.New().String()
	}

	ctx, span := d.tracer.Start(r.Context(), "wharf.dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.RequestURI()),
			attribute.String("wharf.request_id", requestID),
		),
	)
	defer span.End()

	entry := d.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"method":     r.Method,
		"path":       r.URL.Path,
	}).WithFields(observability.TraceFields(ctx))
	ctx = observability.WithLogger(ctx, entry)
	r = r.WithContext(ctx)

	capture := NewCapture(w, d.captureLimit)
	rc := plugins.NewRequestContext(requestID, r, capture, d.meta, entry)

	handledBy, err := d.Dispatch(rc)
	if handledBy == "" {
		handledBy = "none"
	}
	span.SetAttributes(attribute.String("wharf.middleware", handledBy))
	if err != nil {
		d.fail(capture, entry.WithField("middleware", handledBy), span, handledBy, err)
	}

	// the handler has returned, so the snapshot is complete
	snapshot := capture.Build()
	span.SetAttributes(attribute.Int("http.status_code", snapshot.Status))

	elapsed := time.Since(start)
	if d.metrics != nil {
		d.metrics.RecordDispatch(handledBy, r.Method, snapshot.Status, elapsed)
	}
	if d.otelMetrics != nil {
		d.otelMetrics.RecordDispatch(ctx, handledBy, r.Method, snapshot.Status, elapsed)
	}
	if d.cacheWriter != nil {
		if r.Method == http.MethodGet {
			hit := snapshot.HeaderValue(CacheHeader) == "hit"
			if d.metrics != nil {
				d.metrics.RecordCacheLookup("response", hit)
			}
			if d.otelMetrics != nil {
				d.otelMetrics.RecordCacheLookup(ctx, "response", hit)
			}
		}
		if err == nil {
			d.cacheWriter.Store(r, snapshot)
		}
	}
}

func (d *Dispatcher) fail(capture *Capture, entry *logrus.Entry, span trace.Span, handledBy string, err error) {
	if se, ok := plugins.AsStatusError(err); ok {
		d.countFailure(handledBy, "status")
		if capture.Written() {
			entry.WithField("status", se.Code).Warn("Middleware failed with a status after the response was started")
			return
		}
		message := se.Message
		if message == "" {
			message = http.StatusText(se.Code)
		}
		if se.Code >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, message)
		}
		httputil.WriteErrorMessage(capture, se.Code, message)
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "internal error")

	switch {
	case errors.Is(err, plugins.ErrUnhandled):
		if d.metrics != nil {
			d.metrics.DispatchUnhandledTotal.Inc()
		}
		entry.Error("No middleware handled the request; configure a load-last fallback")
	case errors.Is(err, errPanic):
		d.countFailure(handledBy, "panic")
		entry.WithError(err).Error("Middleware panicked")
	default:
		d.countFailure(handledBy, "error")
		entry.WithError(err).Error("Middleware failed")
	}

	if !capture.Written() {
		httputil.WriteInternalError(capture)
	}
}

func (d *Dispatcher) countFailure(middleware, kind string) {
	if d.metrics != nil {
		d.metrics.DispatchFailuresTotal.WithLabelValues(middleware, kind).Inc()
	}
}

func shouldHandle(m plugins.Middleware, rc *plugins.RequestContext) (should bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w in ShouldHandle: %v\n%s", errPanic, r, debug.Stack())
		}
	}()
	return m.ShouldHandle(rc), nil
}

func handle(m plugins.Middleware, rc *plugins.RequestContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w in Handle: %v\n%s", errPanic, r, debug.Stack())
		}
	}()
	return m.Handle(rc)
}
