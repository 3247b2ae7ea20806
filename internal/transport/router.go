// Package transport routes every outgoing operation to the right channel and
// attaches credentials, anti-forgery tokens and error interception on the way.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/spec-kit/sorting-kiosk/internal/clock"
	"github.com/spec-kit/sorting-kiosk/internal/csrf"
	"github.com/spec-kit/sorting-kiosk/internal/domain"
	"github.com/spec-kit/sorting-kiosk/internal/observability"
	apperrors "github.com/spec-kit/sorting-kiosk/pkg/util/errorutil"
)

const (
	tracerName             = "github.com/spec-kit/sorting-kiosk/internal/transport"
	defaultSlowThreshold   = 3 * time.Second
	maxResponseBytes       = 4 << 20
	requestIDHeader        = "X-Request-ID"
	authorizationHeader    = "Authorization"
	malformedResponseError = "malformed response from server"
)

// CredentialSource yields the current bearer credential.
type CredentialSource interface {
	Credential(ctx context.Context) (string, bool)
}

// AntiForgerySource yields the current anti-forgery token.
type AntiForgerySource interface {
	Token(ctx context.Context) (string, bool)
}

// Notifier shows a transient message to the operator.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
}

// UnauthenticatedHook runs when an operation fails for lack of a valid credential.
type UnauthenticatedHook func(ctx context.Context, desc *apperrors.Descriptor)

// Options wires a Router.
type Options struct {
	PointURL          string
	UploadURL         string
	HTTPClient        *http.Client
	Stream            *Stream
	Credentials       CredentialSource
	AntiForgery       AntiForgerySource
	Notifier          Notifier
	Metrics           *observability.Metrics
	Logger            *zap.Logger
	Clock             clock.Clock
	SlowCallThreshold time.Duration
}

// Router is the single path by which operations reach the remote API.
type Router struct {
	pointURL   string
	uploadURL  string
	client     *http.Client
	stream     *Stream
	cache      *Cache
	creds      CredentialSource
	csrf       AntiForgerySource
	notifier   Notifier
	metrics    *observability.Metrics
	classifier *apperrors.Classifier
	logger     *zap.Logger
	clock      clock.Clock
	tracer     trace.Tracer
	slowAfter  time.Duration

	mu       sync.RWMutex
	onUnauth UnauthenticatedHook
}

// NewRouter builds a router. The stream, when given, reports its failures
// through the router's interception.
func NewRouter(opts Options) *Router {
	logger := observability.OrNop(opts.Logger)
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	slowAfter := opts.SlowCallThreshold
	if slowAfter <= 0 {
		slowAfter = defaultSlowThreshold
	}

	r := &Router{
		pointURL:   opts.PointURL,
		uploadURL:  opts.UploadURL,
		client:     client,
		stream:     opts.Stream,
		cache:      NewCache(),
		creds:      opts.Credentials,
		csrf:       opts.AntiForgery,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		classifier: apperrors.NewClassifier(logger),
		logger:     logger,
		clock:      clk,
		tracer:     otel.Tracer(tracerName),
		slowAfter:  slowAfter,
	}
	if r.stream != nil {
		r.stream.onError = func(ctx context.Context, operation string, err error) error {
			return r.intercept(ctx, operation, err)
		}
	}
	return r
}

// OnUnauthenticated installs the hook run for UNAUTHENTICATED failures.
func (r *Router) OnUnauthenticated(hook UnauthenticatedHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onUnauth = hook
}

// Stream returns the live channel, if configured.
func (r *Router) Stream() *Stream {
	return r.stream
}

// Do dispatches op. Failures are returned as *errorutil.Descriptor after
// interception has run.
func (r *Router) Do(ctx context.Context, op Operation) (*Result, error) {
	if Route(op) == ChannelStream {
		return r.subscribe(ctx, op)
	}

	cacheable := op.Kind != KindMutation
	key := Key(op)
	policy := op.policy()

	if cacheable && policy == PolicyCacheFirst {
		if data, ok := r.cache.Get(key); ok {
			return &Result{Data: data, FromCache: true}, nil
		}
	}

	data, err := r.point(ctx, op)
	if err != nil {
		return nil, err
	}
	if cacheable && policy != PolicyNetworkOnly {
		data = r.cache.Put(key, data)
	}
	return &Result{Data: data}, nil
}

// Watch runs op cache-and-network: the cached value, if any, is sent first and
// the network value follows. The channel closes after the network answer.
func (r *Router) Watch(ctx context.Context, op Operation) <-chan Result {
	out := make(chan Result, 2)
	go func() {
		defer close(out)
		key := Key(op)
		if data, ok := r.cache.Get(key); ok {
			out <- Result{Data: data, FromCache: true}
		}
		data, err := r.point(ctx, op)
		if err != nil {
			out <- Result{Err: err}
			return
		}
		out <- Result{Data: r.cache.Put(key, data)}
	}()
	return out
}

// Reset drops cached results and live subscriptions.
func (r *Router) Reset() {
	r.cache.Clear()
	if r.stream != nil {
		r.stream.Reset()
	}
}

// Close shuts the live channel down.
func (r *Router) Close() {
	if r.stream != nil {
		r.stream.Close()
	}
}

func (r *Router) subscribe(ctx context.Context, op Operation) (*Result, error) {
	if r.stream == nil {
		return nil, r.intercept(ctx, op.Name, &apperrors.GenericFailure{Message: "live updates are not configured"})
	}
	sub, err := r.stream.Subscribe(ctx, op)
	if err != nil {
		return nil, r.intercept(ctx, op.Name, err)
	}
	r.logger.Debug("subscription registered", zap.String("operation", op.Name), zap.String("id", sub.ID))
	return &Result{Subscription: sub}, nil
}

func (r *Router) point(ctx context.Context, op Operation) (json.RawMessage, error) {
	var data json.RawMessage
	err := r.instrument(ctx, op.Name, ChannelPoint, func(ctx context.Context) error {
		body, err := json.Marshal(newPointRequest(op))
		if err != nil {
			return &apperrors.GenericFailure{Message: fmt.Sprintf("encode request: %v", err)}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.pointURL, bytes.NewReader(body))
		if err != nil {
			return &apperrors.GenericFailure{Message: fmt.Sprintf("build request: %v", err)}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		r.decorate(ctx, req)

		data, err = r.send(req)
		return err
	})
	if err != nil {
		return nil, r.intercept(ctx, op.Name, err)
	}
	return data, nil
}

// decorate attaches the request id and, when held, the credential and
// anti-forgery token. Absent values leave their header unset.
func (r *Router) decorate(ctx context.Context, req *http.Request) {
	req.Header.Set(requestIDHeader, uuid.NewString())
	if r.creds != nil {
		if token, ok := r.creds.Credential(ctx); ok {
			req.Header.Set(authorizationHeader, "Bearer "+token)
		}
	}
	if r.csrf != nil {
		if token, ok := r.csrf.Token(ctx); ok {
			req.Header.Set(csrf.HeaderName, token)
		}
	}
}

func (r *Router) send(req *http.Request) (json.RawMessage, error) {
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &apperrors.TransportFailure{Err: err}
	}
	defer resp.Body.Close()
	return decodeResponse(resp)
}

func decodeResponse(resp *http.Response) (json.RawMessage, error) {
	status := resp.StatusCode
	if status == http.StatusUnauthorized || status == http.StatusForbidden || status >= http.StatusInternalServerError {
		return nil, &apperrors.TransportFailure{Status: status}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &apperrors.TransportFailure{Status: status, Err: err}
	}
	ok := status >= 200 && status < 300

	var body pointResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		if !ok {
			return nil, &apperrors.TransportFailure{Status: status}
		}
		return nil, &apperrors.GenericFailure{Message: malformedResponseError}
	}
	if len(body.Errors) > 0 {
		return nil, protocolFailure(body.Errors[0])
	}
	if !ok {
		return nil, &apperrors.TransportFailure{Status: status}
	}
	return body.Data, nil
}

// instrument wraps call in a span and records its latency whether it
// succeeds or fails.
func (r *Router) instrument(ctx context.Context, operation string, channel Channel, call func(context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, string(channel)+" "+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("kiosk.operation", operation),
			attribute.String("kiosk.channel", string(channel)),
		),
	)
	defer span.End()

	start := r.clock.Now()
	err := call(ctx)
	elapsed := r.clock.Now().Sub(start)

	slow := elapsed > r.slowAfter
	r.metrics.RecordOperation(operation, string(channel), elapsed, err != nil, slow)
	if slow {
		r.logger.Warn("slow operation",
			zap.String("operation", operation),
			zap.String("channel", string(channel)),
			zap.Duration("elapsed", elapsed),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// intercept classifies err once. UNAUTHENTICATED runs the hook instead of a
// notification; cancellation by the caller is silent.
func (r *Router) intercept(ctx context.Context, operation string, err error) *apperrors.Descriptor {
	desc := r.classifier.Classify(operation, err)
	r.metrics.RecordError(operation, desc.Code)

	switch {
	case desc.Code == apperrors.CodeUnauthenticated:
		r.mu.RLock()
		hook := r.onUnauth
		r.mu.RUnlock()
		if hook != nil {
			hook(ctx, desc)
		}
	case errors.Is(err, context.Canceled):
	default:
		r.notify(ctx, operation, desc)
	}
	return desc
}

func (r *Router) notify(ctx context.Context, operation string, desc *apperrors.Descriptor) {
	if r.notifier == nil {
		return
	}
	r.notifier.Notify(ctx, domain.Notification{
		ID:        uuid.NewString(),
		Message:   desc.Message,
		Code:      desc.Code,
		Operation: operation,
		Retryable: desc.Retryable,
		CreatedAt: r.clock.Now(),
	})
}
