package transport

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/spec-kit/sorting-kiosk/pkg/util/errorutil"
)

// Subprotocol is negotiated with the streaming endpoint.
const Subprotocol = "graphql-transport-ws"

const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
	msgPing           = "ping"
	msgPong           = "pong"
)

const (
	minReconnectDelay   = 500 * time.Millisecond
	defaultMaxReconnect = 30 * time.Second
	ackTimeout          = 10 * time.Second
	streamWriteTimeout  = 10 * time.Second
)

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is one server-pushed value for a subscription.
type Event struct {
	Data json.RawMessage
	Err  error
}

// Subscription receives a live operation's events in server emission order.
// Each subscription drains its own backlog, so a consumer that stops reading
// never holds up the socket or other subscriptions.
type Subscription struct {
	ID string

	op     Operation
	stream *Stream
	events chan Event

	wake     chan struct{}
	done     chan struct{}
	doneOnce sync.Once

	mu      sync.Mutex
	backlog []Event
	ended   bool
}

func newSubscription(stream *Stream, op Operation) *Subscription {
	sub := &Subscription{
		ID:     uuid.NewString(),
		op:     op,
		stream: stream,
		events: make(chan Event),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go sub.pump()
	return sub
}

// Events is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Unsubscribe stops the subscription and tells the server.
func (s *Subscription) Unsubscribe() {
	s.stream.unsubscribe(s)
}

// deliver queues ev without blocking the caller.
func (s *Subscription) deliver(ev Event) bool {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return false
	}
	s.backlog = append(s.backlog, ev)
	s.mu.Unlock()
	s.signal()
	return true
}

// end refuses further events. Queued events still reach the consumer before
// Events is closed.
func (s *Subscription) end() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.signal()
}

// cancel ends the subscription and drops whatever the consumer has not read.
func (s *Subscription) cancel() {
	s.end()
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.events)
	for {
		s.mu.Lock()
		if len(s.backlog) == 0 {
			ended := s.ended
			s.mu.Unlock()
			if ended {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.backlog[0]
		s.backlog[0] = Event{}
		s.backlog = s.backlog[1:]
		s.mu.Unlock()

		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

// StreamOptions configures a Stream.
type StreamOptions struct {
	URL         string
	Credentials CredentialSource
	Dialer      *websocket.Dialer
	MaxBackoff  time.Duration
	Logger      *zap.Logger
}

// Stream is the persistent live-update channel. It connects once, on first
// use, and reconnects for as long as it is open. The bearer token is read at
// every connect.
type Stream struct {
	url        string
	creds      CredentialSource
	dialer     *websocket.Dialer
	maxBackoff time.Duration
	logger     *zap.Logger
	onError    func(ctx context.Context, operation string, err error) error

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	subs      map[string]*Subscription
	writeMu   sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	stopped   chan struct{}
}

// NewStream builds a stream that has not yet connected.
func NewStream(opts StreamOptions) *Stream {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	}
	d := *dialer
	d.Subprotocols = []string{Subprotocol}

	maxBackoff := opts.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxReconnect
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		url:        opts.URL,
		creds:      opts.Credentials,
		dialer:     &d,
		maxBackoff: maxBackoff,
		logger:     logger,
		subs:       make(map[string]*Subscription),
		ctx:        ctx,
		cancel:     cancel,
		stopped:    make(chan struct{}),
	}
}

// Connected reports whether the socket is currently established.
func (s *Stream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Subscribe registers op and sends it once the socket is up.
func (s *Stream) Subscribe(_ context.Context, op Operation) (*Subscription, error) {
	if s.ctx.Err() != nil {
		return nil, errors.New("stream closed")
	}
	s.startOnce.Do(func() { go s.run() })

	sub := newSubscription(s, op)

	s.mu.Lock()
	s.subs[sub.ID] = sub
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		if err := s.write(conn, subscribeMessage(sub)); err != nil {
			s.logger.Debug("subscribe deferred to reconnect", zap.String("operation", op.Name), zap.Error(err))
		}
	}
	return sub, nil
}

// Reset ends every subscription and drops the socket; the next connect uses
// whatever credential is current then.
func (s *Stream) Reset() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]*Subscription)
	conn := s.conn
	s.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// Close tears down the socket and ends all subscriptions.
func (s *Stream) Close() {
	s.cancel()
	s.Reset()
	started := true
	s.startOnce.Do(func() { started = false })
	if started {
		<-s.stopped
	}
}

func (s *Stream) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	_, active := s.subs[sub.ID]
	delete(s.subs, sub.ID)
	conn := s.conn
	s.mu.Unlock()

	if active && conn != nil {
		_ = s.write(conn, wsMessage{ID: sub.ID, Type: msgComplete})
	}
	sub.cancel()
}

func (s *Stream) run() {
	defer close(s.stopped)
	delay := minReconnectDelay

	for {
		if s.ctx.Err() != nil {
			return
		}

		wasConnected, err := s.connectAndServe(s.ctx)
		if s.ctx.Err() != nil {
			return
		}
		if wasConnected {
			delay = minReconnectDelay
		}
		s.logger.Warn("stream connection lost, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", delay),
		)

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(jitter(delay)):
		}

		delay *= 2
		if delay > s.maxBackoff {
			delay = s.maxBackoff
		}
	}
}

// jitter adds 0-50% random jitter to a duration.
func jitter(d time.Duration) time.Duration {
	max := int64(d / 2)
	if max <= 0 {
		return d
	}
	n, err := rand.Int(rand.Reader, big.NewInt(max))
	if err != nil {
		return d
	}
	return d + time.Duration(n.Int64())
}

func (s *Stream) connectAndServe(ctx context.Context) (bool, error) {
	conn, resp, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return false, &apperrors.TransportFailure{Status: resp.StatusCode, Err: err}
		}
		return false, fmt.Errorf("dial: %w", err)
	}

	served := make(chan struct{})
	defer close(served)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-served:
		}
	}()
	defer conn.Close()

	if err := s.handshake(ctx, conn); err != nil {
		return false, err
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	pending := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		pending = append(pending, sub)
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.connected = false
		s.mu.Unlock()
	}()

	s.logger.Info("stream connected", zap.String("url", s.url), zap.Int("subscriptions", len(pending)))
	for _, sub := range pending {
		if err := s.write(conn, subscribeMessage(sub)); err != nil {
			return true, fmt.Errorf("resubscribe: %w", err)
		}
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Warn("invalid stream message", zap.Error(err))
			continue
		}
		if err := s.handle(ctx, conn, msg); err != nil {
			return true, err
		}
	}
}

func (s *Stream) handshake(ctx context.Context, conn *websocket.Conn) error {
	payload := map[string]string{}
	if s.creds != nil {
		if token, ok := s.creds.Credential(ctx); ok {
			payload["Authorization"] = "Bearer " + token
		}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := s.write(conn, wsMessage{Type: msgConnectionInit, Payload: raw}); err != nil {
		return fmt.Errorf("connection_init: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(ackTimeout))
	defer conn.SetReadDeadline(time.Time{}) //nolint:errcheck
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("await ack: %w", err)
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case msgConnectionAck:
			return nil
		case msgPing:
			if err := s.write(conn, wsMessage{Type: msgPong}); err != nil {
				return err
			}
		}
	}
}

func (s *Stream) handle(ctx context.Context, conn *websocket.Conn, msg wsMessage) error {
	switch msg.Type {
	case msgPing:
		return s.write(conn, wsMessage{Type: msgPong, Payload: msg.Payload})
	case msgNext:
		sub := s.lookup(msg.ID)
		if sub == nil {
			return nil
		}
		var body pointResponse
		if err := json.Unmarshal(msg.Payload, &body); err != nil {
			sub.deliver(Event{Err: s.classify(ctx, sub, &apperrors.GenericFailure{Message: "malformed stream payload"})})
			return nil
		}
		if len(body.Errors) > 0 {
			sub.deliver(Event{Err: s.classify(ctx, sub, protocolFailure(body.Errors[0]))})
			return nil
		}
		sub.deliver(Event{Data: body.Data})
	case msgError:
		sub := s.detach(msg.ID)
		if sub == nil {
			return nil
		}
		var errs []apiError
		var failure error = &apperrors.GenericFailure{Message: "subscription rejected"}
		if json.Unmarshal(msg.Payload, &errs) == nil && len(errs) > 0 {
			failure = protocolFailure(errs[0])
		}
		sub.deliver(Event{Err: s.classify(ctx, sub, failure)})
		sub.end()
	case msgComplete:
		if sub := s.detach(msg.ID); sub != nil {
			sub.end()
		}
	}
	return nil
}

func (s *Stream) classify(ctx context.Context, sub *Subscription, err error) error {
	if s.onError == nil {
		return apperrors.Describe(err)
	}
	return s.onError(ctx, sub.op.Name, err)
}

func (s *Stream) lookup(id string) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[id]
}

func (s *Stream) detach(id string) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.subs[id]
	delete(s.subs, id)
	return sub
}

func (s *Stream) write(conn *websocket.Conn, msg wsMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func subscribeMessage(sub *Subscription) wsMessage {
	payload, _ := json.Marshal(newPointRequest(sub.op))
	return wsMessage{ID: sub.ID, Type: msgSubscribe, Payload: payload}
}

func protocolFailure(e apiError) *apperrors.ProtocolFailure {
	return &apperrors.ProtocolFailure{Code: e.Extensions.Code, Field: e.Extensions.Field, Message: e.Message}
}
