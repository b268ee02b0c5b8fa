package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"resqfood/models"
)

const (
	// AnyEvent - подписка на все кадры
	AnyEvent = "*"

	DEFAULT_RECONNECT_ATTEMPTS = 5
	DEFAULT_RECONNECT_DELAY    = 2 * time.Second

	reconnectedHook = "reconnected"
)

// ConnState - состояние соединения
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Listener получает кадры, на имя которых подписан
type Listener interface {
	HandleFrame(f Frame)
}

// ConnectionOptions - политика переподключения и колбэк статуса
type ConnectionOptions struct {
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	// OnStatus вызывается при каждой смене состояния; err заполнен для ошибок транспорта
	OnStatus func(state ConnState, err error)
}

// lifecycle - примитивные слушатели одного подключения. Пересоздаются на каждый Connect,
// поэтому цикл чтения старого подключения не может дернуть новые.
type lifecycle struct {
	onConnect    func()
	onDisconnect func()
	onError      func(err error)
}

type connSession struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	life   lifecycle

	mu     sync.Mutex
	stream Stream
}

func (s *connSession) setStream(st Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream = st
}

func (s *connSession) closeStream() {
	s.mu.Lock()
	st := s.stream
	s.mu.Unlock()
	if st != nil {
		_ = st.Close()
	}
}

// ConnectionManager - единственное push-соединение процесса
type ConnectionManager struct {
	transport Transport
	opts      ConnectionOptions
	logger    *slog.Logger
	diag      *Diagnostics

	mu       sync.Mutex
	state    ConnState
	lastErr  error
	creds    Credentials
	session  *connSession
	sessions uint64

	listeners *registry[string, Listener]
	hooks     *registry[string, *reconnectHook]
}

// reconnectHook дает функции идентичность для реестра
type reconnectHook struct {
	fn func()
}

func NewConnectionManager(transport Transport, opts ConnectionOptions, logger *slog.Logger, diag *Diagnostics) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ReconnectAttempts < 0 {
		opts.ReconnectAttempts = 0
	}
	if opts.ReconnectDelay < 0 {
		opts.ReconnectDelay = 0
	}
	return &ConnectionManager{
		transport: transport,
		opts:      opts,
		logger:    logger.With("component", "connection", "transport", transport.Name()),
		diag:      diag,
		listeners: newRegistry[string, Listener](),
		hooks:     newRegistry[string, *reconnectHook](),
	}
}

// Connect открывает соединение. Если оно уже открыто или открывается - no-op.
// Неудачное рукопожатие уходит в ограниченное переподключение, исход сообщает OnStatus;
// ошибка возвращается, только если ctx отменен до установки соединения.
func (m *ConnectionManager) Connect(ctx context.Context, creds Credentials) error {
	m.mu.Lock()
	if m.session != nil {
		// уже подключено, подключается или переподключается
		m.mu.Unlock()
		return nil
	}
	m.sessions++
	sctx, cancel := context.WithCancel(context.Background())
	s := &connSession{id: m.sessions, ctx: sctx, cancel: cancel, done: make(chan struct{})}
	s.life = m.installLifecycle(s)
	m.session = s
	m.creds = creds
	m.mu.Unlock()

	m.setState(s, StateConnecting, nil)

	stream, err := m.dial(ctx, s, creds)
	if err != nil {
		terr := &TransportError{Op: "dial", Err: err}
		if s.ctx.Err() != nil {
			// Disconnect пришел во время рукопожатия
			close(s.done)
			return nil
		}
		if ctx.Err() != nil {
			m.mu.Lock()
			if m.session == s {
				m.session = nil
			}
			m.mu.Unlock()
			cancel()
			close(s.done)
			m.setState(s, StateDisconnected, terr)
			return terr
		}
		s.life.onError(terr)
		go func() {
			stream := m.reconnect(s, terr)
			if stream == nil {
				close(s.done)
				return
			}
			m.fireReconnected()
			m.readLoop(s, stream)
		}()
		return nil
	}

	m.mu.Lock()
	if m.session != s {
		// Disconnect пришел во время рукопожатия
		m.mu.Unlock()
		_ = stream.Close()
		return nil
	}
	s.setStream(stream)
	m.mu.Unlock()

	s.life.onConnect()
	go m.readLoop(s, stream)
	return nil
}

// dial проводит рукопожатие в рамках ctx вызывающего, но поток живет контекстом сессии
func (m *ConnectionManager) dial(ctx context.Context, s *connSession, creds Credentials) (Stream, error) {
	hctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return m.transport.Dial(hctx, creds)
}

// Disconnect закрывает соединение; повторный вызов - no-op
func (m *ConnectionManager) Disconnect() error {
	m.mu.Lock()
	s := m.session
	if s == nil {
		m.mu.Unlock()
		return nil
	}
	m.session = nil
	m.mu.Unlock()

	s.cancel()
	s.closeStream()
	s.life.onDisconnect()
	return nil
}

// Wait блокируется до завершения цикла чтения текущего подключения
func (m *ConnectionManager) Wait() {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s != nil {
		<-s.done
	}
}

// installLifecycle собирает фиксированный набор слушателей для подключения s
func (m *ConnectionManager) installLifecycle(s *connSession) lifecycle {
	return lifecycle{
		onConnect: func() {
			m.logger.Info("push connection established", "session", s.id)
			m.setState(s, StateConnected, nil)
		},
		onDisconnect: func() {
			m.logger.Info("push connection closed", "session", s.id)
			m.forceState(StateDisconnected, nil)
		},
		onError: func(err error) {
			m.logger.Warn("push connection error", "session", s.id, "error", err)
			m.diag.Report(models.DiagTransport, "", "", "", err)
		},
	}
}

func (m *ConnectionManager) readLoop(s *connSession, stream Stream) {
	defer close(s.done)
	for {
		f, err := stream.Receive(s.ctx)
		if err == nil {
			m.dispatch(s, f)
			continue
		}
		if errors.Is(err, ErrMalformedPayload) {
			m.diag.Report(models.DiagMalformedPayload, "", "", f.Event, err)
			continue
		}
		_ = stream.Close()
		if s.ctx.Err() != nil {
			return
		}
		terr := &TransportError{Op: "receive", Err: err}
		s.life.onError(terr)

		stream = m.reconnect(s, terr)
		if stream == nil {
			return
		}
		m.fireReconnected()
	}
}

// reconnect делает до ReconnectAttempts попыток с фиксированной паузой; cause - ошибка, с которой все началось
func (m *ConnectionManager) reconnect(s *connSession, cause error) Stream {
	m.setState(s, StateReconnecting, cause)
	m.mu.Lock()
	creds := m.creds
	m.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= m.opts.ReconnectAttempts; attempt++ {
		select {
		case <-s.ctx.Done():
			return nil
		case <-time.After(m.opts.ReconnectDelay):
		}
		reconnectAttemptsTotal.Inc()
		m.logger.Debug("reconnecting", "session", s.id, "attempt", attempt)

		stream, err := m.transport.Dial(s.ctx, creds)
		if err != nil {
			lastErr = err
			m.logger.Warn("reconnect attempt failed", "session", s.id, "attempt", attempt, "error", err)
			continue
		}
		m.mu.Lock()
		if m.session != s {
			m.mu.Unlock()
			_ = stream.Close()
			return nil
		}
		s.setStream(stream)
		m.mu.Unlock()
		m.setState(s, StateConnected, nil)
		return stream
	}

	if lastErr == nil {
		lastErr = errors.New("no reconnect attempts allowed")
	}
	terr := &TransportError{Op: "reconnect", Err: fmt.Errorf("gave up after %d attempts: %w", m.opts.ReconnectAttempts, lastErr)}
	m.mu.Lock()
	if m.session == s {
		m.session = nil
	}
	m.mu.Unlock()
	m.setState(s, StateFailed, terr)
	m.diag.Report(models.DiagTransport, "", "", "", terr)
	return nil
}

func (m *ConnectionManager) dispatch(s *connSession, f Frame) {
	m.mu.Lock()
	current := m.session == s
	m.mu.Unlock()
	if !current {
		return
	}
	for _, l := range m.listeners.Listeners(f.Event) {
		l.HandleFrame(f)
	}
	if f.Event != AnyEvent {
		for _, l := range m.listeners.Listeners(AnyEvent) {
			l.HandleFrame(f)
		}
	}
}

func (m *ConnectionManager) fireReconnected() {
	for _, h := range m.hooks.Listeners(reconnectedHook) {
		h.fn()
	}
}

// setState меняет состояние от имени подключения s. Пока s текущее - любое состояние;
// после его снятия - только disconnected/failed и только если нового подключения нет.
func (m *ConnectionManager) setState(s *connSession, state ConnState, err error) {
	m.mu.Lock()
	stale := m.session != s && (m.session != nil || (state != StateFailed && state != StateDisconnected))
	m.mu.Unlock()
	if stale {
		return
	}
	m.forceState(state, err)
}

func (m *ConnectionManager) forceState(state ConnState, err error) {
	m.mu.Lock()
	if m.state == state && err == nil {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.lastErr = err
	onStatus := m.opts.OnStatus
	m.mu.Unlock()

	connectionState.Set(float64(state))
	if onStatus != nil {
		onStatus(state, err)
	}
}

// Status - текущее состояние и последняя ошибка транспорта
func (m *ConnectionManager) Status() (ConnState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.lastErr
}

// Subscribe регистрирует слушателя на имя события (или AnyEvent); дубликаты схлопываются.
// Несравнимый слушатель отвергается: nil и диагностика.
func (m *ConnectionManager) Subscribe(eventName string, l Listener) *Subscription {
	sub, err := m.listeners.Add(eventName, l)
	if err != nil {
		m.diag.Report(models.DiagRejectedListener, "", "", eventName, err)
		return nil
	}
	return sub
}

func (m *ConnectionManager) Unsubscribe(eventName string, l Listener) bool {
	return m.listeners.Remove(eventName, l)
}

// OnReconnected регистрирует хук, вызываемый после успешного переподключения.
// Каждый вызов - отдельная регистрация, снимается только через хэндл.
func (m *ConnectionManager) OnReconnected(fn func()) *Subscription {
	if fn == nil {
		return nil
	}
	sub, _ := m.hooks.Add(reconnectedHook, &reconnectHook{fn: fn})
	return sub
}

func (m *ConnectionManager) ListenerCount() int {
	return m.listeners.Len()
}
