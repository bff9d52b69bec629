package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/yegors/voxdesk/internal/realtime/events"
	"github.com/yegors/voxdesk/internal/realtime/protocol"
	"github.com/yegors/voxdesk/pkg/logger"
)

const (
	DefaultBaseURL           = "https://api.openai.com"
	DefaultPath              = "/v1/realtime"
	DefaultConnectTimeout    = 15 * time.Second
	DefaultKeepAliveInterval = 30 * time.Second
)

// Config holds the connection settings of a Session
type Config struct {
	APIKey            string
	BaseURL           string
	Path              string
	Model             string
	ConnectTimeout    time.Duration
	KeepAliveInterval time.Duration
	Backoff           Backoff
}

// connectCall is one in-flight connection attempt shared by every caller
// that arrives while it runs
type connectCall struct {
	done chan struct{}
	err  error
}

// Session owns the connection to the realtime backend: connect, disconnect,
// send, reconnect with backoff and the advisory keep-alive timer
type Session struct {
	cfg    Config
	dialer Dialer
	bus    *events.Bus
	log    *logger.Logger

	// schedule runs f after d and returns a cancel func
	schedule func(d time.Duration, f func()) func()

	mu       sync.Mutex
	state    events.ConnectionState
	conn     Conn
	inflight *connectCall
	explicit bool
	attempts int
	retries  backoff.BackOff
	cancelRetry   func()
	stopKeepAlive chan struct{}
	lastAudioSend time.Time
	onMessage     func([]byte)
	sessionConfig func() protocol.SessionConfig
}

// New validates the configuration and creates a disconnected session.
// A nil dialer uses gorilla/websocket.
func New(cfg Config, dialer Dialer, bus *events.Bus, log *logger.Logger) (*Session, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &ConfigurationError{Field: "openai.api_key"}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if cfg.Backoff.MaxAttempts <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if dialer == nil {
		dialer = WebsocketDialer{HandshakeTimeout: cfg.ConnectTimeout}
	}
	if bus == nil {
		bus = events.NewBus()
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Session{
		cfg:    cfg,
		dialer: dialer,
		bus:    bus,
		log:    log.Named("transport"),
		state:  events.StateDisconnected,
		schedule: func(d time.Duration, f func()) func() {
			t := time.AfterFunc(d, f)
			return func() { t.Stop() }
		},
	}, nil
}

// SetMessageHandler sets the callback for inbound messages. It is invoked
// sequentially on the read goroutine, in arrival order.
func (s *Session) SetMessageHandler(fn func([]byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = fn
}

// SetSessionConfig sets the builder for the session.update sent on every open
func (s *Session) SetSessionConfig(fn func() protocol.SessionConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionConfig = fn
}

// State returns the current connection state
func (s *Session) State() events.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// URL returns the websocket URL the session dials
func (s *Session) URL() string {
	wsBase := toWebSocketBase(s.cfg.BaseURL)
	u := strings.TrimRight(wsBase, "/") + s.cfg.Path
	if s.cfg.Model != "" {
		u += "?model=" + neturl.QueryEscape(s.cfg.Model)
	}
	return u
}

// Connect opens the connection and blocks until it is open, fails or the
// connect timeout elapses. Concurrent callers share a single attempt.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == events.StateConnected {
		s.mu.Unlock()
		return nil
	}
	if call := s.inflight; call != nil {
		s.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.explicit = false
	s.resetRetriesLocked()
	if s.cancelRetry != nil {
		s.cancelRetry()
		s.cancelRetry = nil
	}
	call := &connectCall{done: make(chan struct{})}
	s.inflight = call
	pending := s.setStateLocked(events.StateConnecting)
	s.mu.Unlock()

	s.publish(pending...)
	return s.establish(ctx, call)
}

// establish dials, installs the connection and finishes call. On failure it
// hands over to the reconnect policy.
func (s *Session) establish(ctx context.Context, call *connectCall) error {
	conn, err := s.dial(ctx)

	s.mu.Lock()
	s.inflight = nil
	if err == nil && s.explicit {
		s.mu.Unlock()
		_ = conn.Close(websocket.CloseNormalClosure, "client disconnect")
		err = ErrDisconnected
		call.err = err
		close(call.done)
		return err
	}
	if err != nil {
		explicit := s.explicit
		s.mu.Unlock()

		call.err = err
		close(call.done)

		if explicit {
			return err
		}
		s.log.Error("Failed to connect to realtime backend",
			logger.String("url", s.URL()),
			logger.Error(err))
		s.publish(events.Error{Err: err})
		s.scheduleReconnect()
		return err
	}

	s.conn = conn
	s.resetRetriesLocked()
	stop := make(chan struct{})
	s.stopKeepAlive = stop
	pending := s.setStateLocked(events.StateConnected)
	handler := s.onMessage
	s.mu.Unlock()

	call.err = nil
	close(call.done)

	s.log.Info("Connected to realtime backend", logger.String("url", s.URL()))
	go s.keepAlive(stop)
	go s.readLoop(conn, handler)

	// session.update goes out before any subscriber can send on Connected
	s.sendSessionUpdate()
	s.publish(pending...)
	s.publish(events.Connected{URL: s.URL()})
	return nil
}

func (s *Session) dial(ctx context.Context) (Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+s.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	s.log.Debug("Dialing realtime backend", logger.String("url", s.URL()))

	type result struct {
		conn Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := s.dialer.Dial(ctx, s.URL(), headers)
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, &TransportError{Op: "connect", Err: ErrConnectTimeout}
			}
			return nil, &TransportError{Op: "connect", Err: r.err}
		}
		return r.conn, nil
	case <-ctx.Done():
		// a dialer that ignores ctx must not leak its connection
		go func() {
			if r := <-ch; r.conn != nil {
				_ = r.conn.Close(websocket.CloseNormalClosure, "connect abandoned")
			}
		}()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TransportError{Op: "connect", Err: ErrConnectTimeout}
		}
		return nil, &TransportError{Op: "connect", Err: ctx.Err()}
	}
}

// Reconfigure resends session.update on the open connection
func (s *Session) Reconfigure() error {
	if s.State() != events.StateConnected {
		return ErrNotConnected
	}
	return s.sendSessionUpdate()
}

func (s *Session) sendSessionUpdate() error {
	s.mu.Lock()
	build := s.sessionConfig
	s.mu.Unlock()
	if build == nil {
		return nil
	}

	update := protocol.SessionUpdateEvent{
		Type:    protocol.TypeSessionUpdate,
		Session: build(),
	}
	if err := s.Send(update); err != nil {
		s.log.Error("Failed to send session update", logger.Error(err))
		s.publish(events.Error{Err: err})
		return err
	}
	fields := []logger.Field{
		logger.Int("tools", len(update.Session.Tools)),
		logger.String("voice", update.Session.Voice),
	}
	if t := update.Session.Temperature; t != nil {
		fields = append(fields, logger.Float64("temperature", *t))
	}
	s.log.Debug("Sent session update", fields...)
	return nil
}

func (s *Session) readLoop(conn Conn, handler func([]byte)) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(conn, err)
			return
		}
		if handler != nil {
			handler(data)
		}
	}
}

func (s *Session) handleClose(conn Conn, err error) {
	s.mu.Lock()
	if s.conn != conn {
		// replaced or closed by Disconnect
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.stopKeepAliveLocked()
	explicit := s.explicit
	code := closeCode(err)

	if explicit {
		s.mu.Unlock()
		return
	}

	if code == websocket.CloseNormalClosure {
		pending := s.setStateLocked(events.StateDisconnected)
		s.mu.Unlock()
		s.log.Info("Realtime connection closed normally")
		s.publish(pending...)
		s.publish(events.Disconnected{Unexpected: false})
		return
	}
	s.mu.Unlock()

	s.log.Warn("Realtime connection closed unexpectedly",
		logger.Int("code", code),
		logger.Error(err))
	s.publish(events.Error{Err: &TransportError{Op: "read", Code: code, Err: err}})
	s.scheduleReconnect()
}

// scheduleReconnect arms the next retry or, when the policy is exhausted,
// reports the terminal failure
func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	if s.explicit {
		s.mu.Unlock()
		return
	}

	if s.retries == nil {
		s.retries = s.cfg.Backoff.NewBackOff()
	}
	s.attempts++
	attempt := s.attempts
	delay := s.retries.NextBackOff()
	if delay == backoff.Stop {
		s.resetRetriesLocked()
		pending := s.setStateLocked(events.StateDisconnected)
		s.mu.Unlock()

		s.log.Error("Giving up on reconnecting", logger.Int("attempts", attempt-1))
		s.publish(pending...)
		s.publish(events.Error{Err: &TransportError{Op: "reconnect", Err: ErrRetriesExhausted}})
		s.publish(events.Disconnected{Unexpected: true})
		return
	}

	pending := s.setStateLocked(events.StateReconnecting)
	s.cancelRetry = s.schedule(delay, s.retry)
	s.mu.Unlock()

	s.log.Info("Scheduling reconnect",
		logger.Int("attempt", attempt),
		logger.Duration("delay", delay))
	s.publish(pending...)
	s.publish(events.Reconnecting{Attempt: attempt, Delay: delay})
}

func (s *Session) retry() {
	s.mu.Lock()
	s.cancelRetry = nil
	if s.explicit || s.inflight != nil || s.conn != nil {
		s.mu.Unlock()
		return
	}
	call := &connectCall{done: make(chan struct{})}
	s.inflight = call
	s.mu.Unlock()

	_ = s.establish(context.Background(), call)
}

// Disconnect closes the connection with a normal closure and suppresses
// any reconnection. It is safe to call when already disconnected.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.explicit = true
	s.resetRetriesLocked()
	if s.cancelRetry != nil {
		s.cancelRetry()
		s.cancelRetry = nil
	}
	conn := s.conn
	s.conn = nil
	s.stopKeepAliveLocked()
	wasDisconnected := s.state == events.StateDisconnected
	pending := s.setStateLocked(events.StateDisconnected)
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Close(websocket.CloseNormalClosure, "client disconnect"); err != nil {
			s.log.Debug("Error closing realtime connection", logger.Error(err))
		}
	}
	if wasDisconnected {
		return
	}

	s.log.Info("Disconnected from realtime backend")
	s.publish(pending...)
	s.publish(events.Disconnected{Unexpected: false})
}

// Send serializes and transmits msg. When the session is not open the
// message is dropped with a warning and ErrNotConnected is returned.
func (s *Session) Send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal outbound event: %w", err)
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		s.log.Warn("Dropping outbound event, session not connected",
			logger.String("type", eventType(msg)))
		return ErrNotConnected
	}
	if err := conn.WriteMessage(data); err != nil {
		s.log.Warn("Failed to write outbound event",
			logger.String("type", eventType(msg)),
			logger.Error(err))
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

// SendAudio appends one base64 PCM16 chunk to the input audio buffer
func (s *Session) SendAudio(b64 string) error {
	err := s.Send(protocol.InputAudioBufferAppendEvent{
		Type:  protocol.TypeInputAudioBufferAppend,
		Audio: b64,
	})
	if err == nil {
		s.mu.Lock()
		s.lastAudioSend = time.Now()
		s.mu.Unlock()
	}
	return err
}

// LastAudioSend returns when audio was last sent, zero if never
func (s *Session) LastAudioSend() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAudioSend
}

// keepAlive only logs: the protocol has no application-level ping
func (s *Session) keepAlive(stop chan struct{}) {
	ticker := time.NewTicker(s.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			state := s.state
			last := s.lastAudioSend
			s.mu.Unlock()

			fields := []logger.Field{logger.String("state", string(state))}
			if !last.IsZero() {
				fields = append(fields, logger.Duration("since_last_audio", time.Since(last)))
			}
			if state != events.StateConnected {
				s.log.Warn("Keep-alive check: session not connected", fields...)
				continue
			}
			s.log.Debug("Keep-alive check", fields...)
		}
	}
}

func (s *Session) resetRetriesLocked() {
	s.attempts = 0
	s.retries = nil
}

func (s *Session) stopKeepAliveLocked() {
	if s.stopKeepAlive != nil {
		close(s.stopKeepAlive)
		s.stopKeepAlive = nil
	}
}

func (s *Session) setStateLocked(to events.ConnectionState) []events.Event {
	from := s.state
	if from == to {
		return nil
	}
	s.state = to
	return []events.Event{events.StateChanged{From: from, To: to}}
}

func (s *Session) publish(evs ...events.Event) {
	for _, e := range evs {
		s.bus.Publish(e)
	}
}

func eventType(msg any) string {
	switch m := msg.(type) {
	case protocol.SessionUpdateEvent:
		return string(m.Type)
	case protocol.ConversationItemCreateEvent:
		return string(m.Type)
	case protocol.InputAudioBufferAppendEvent:
		return string(m.Type)
	case protocol.SimpleEvent:
		return string(m.Type)
	case protocol.ResponseCreateEvent:
		return string(m.Type)
	}
	return fmt.Sprintf("%T", msg)
}
