// Package stream keeps one push-stream connection open for the selected
// group, reconnecting with backoff and falling back to polling when the
// stream keeps failing.
package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/adamavenir/ledgersync/internal/clock"
	"github.com/adamavenir/ledgersync/internal/metrics"
	"github.com/adamavenir/ledgersync/internal/types"
	"github.com/google/uuid"
)

const (
	DefaultMaxErrors    = 5
	DefaultPollInterval = 10 * time.Second
)

// ErrStreamClosed is reported when the server ends the stream.
var ErrStreamClosed = errors.New("stream closed by server")

// Dialer opens the push stream for a group.
type Dialer interface {
	OpenStream(ctx context.Context, groupID, lastEventID string) (io.ReadCloser, error)
}

// Conn identifies one Connect call. Deliveries for a Conn whose Gen is
// no longer current must be dropped.
type Conn struct {
	GroupID string
	Gen     uint64
}

// Options configures a Manager. Callbacks run on the manager's goroutines
// (or the clock's), never from inside Connect or Close.
type Options struct {
	Dialer       Dialer
	Clock        clock.Clock
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	BackoffFloor time.Duration
	BackoffCap   time.Duration
	MaxErrors    int
	PollInterval time.Duration

	OnFrame     func(conn Conn, data []byte)
	OnConnected func(conn Conn)
	OnPoll      func(conn Conn)
	OnStatus    func(conn Conn, status types.ConnectionStatus)
}

// Manager owns the stream connection for the selected group.
type Manager struct {
	dialer       Dialer
	clock        clock.Clock
	logger       *slog.Logger
	metrics      *metrics.Metrics
	maxErrors    int
	pollInterval time.Duration

	onFrame     func(Conn, []byte)
	onConnected func(Conn)
	onPoll      func(Conn)
	onStatus    func(Conn, types.ConnectionStatus)

	mu          sync.Mutex
	gen         uint64
	groupID     string
	state       types.ConnState
	backoff     Backoff
	delay       time.Duration
	errors      int
	polling     bool
	lastEventID string
	cancel      context.CancelFunc
	retryTimer  *clock.Timer
	pollTimer   *clock.Timer

	wg sync.WaitGroup
}

func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = DefaultMaxErrors
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	noop := func(Conn) {}
	if opts.OnFrame == nil {
		opts.OnFrame = func(Conn, []byte) {}
	}
	if opts.OnConnected == nil {
		opts.OnConnected = noop
	}
	if opts.OnPoll == nil {
		opts.OnPoll = noop
	}
	if opts.OnStatus == nil {
		opts.OnStatus = func(Conn, types.ConnectionStatus) {}
	}
	return &Manager{
		dialer:       opts.Dialer,
		clock:        opts.Clock,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		maxErrors:    opts.MaxErrors,
		pollInterval: opts.PollInterval,
		onFrame:      opts.OnFrame,
		onConnected:  opts.OnConnected,
		onPoll:       opts.OnPoll,
		onStatus:     opts.OnStatus,
		state:        types.ConnIdle,
		backoff:      Backoff{Floor: opts.BackoffFloor, Cap: opts.BackoffCap},
	}
}

// Connect abandons the current connection and opens one for groupID.
// Returns the generation that deliveries for the new connection carry.
func (m *Manager) Connect(groupID string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.teardownLocked()
	m.gen++
	m.groupID = groupID
	m.state = types.ConnConnecting
	m.backoff.Reset()
	m.delay = 0
	m.errors = 0
	m.polling = false
	m.lastEventID = ""
	m.dialLocked(Conn{GroupID: groupID, Gen: m.gen})
	return m.gen
}

// Close disconnects and waits for the reader to exit. Callbacks must not
// be blocked on the caller when Close is called.
func (m *Manager) Close() {
	m.Disconnect()
	m.wg.Wait()
}

// Disconnect abandons the current connection without waiting for its
// reader, leaving the manager idle.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.teardownLocked()
	m.gen++
	m.groupID = ""
	m.state = types.ConnIdle
	m.delay = 0
	m.errors = 0
	m.polling = false
	m.mu.Unlock()

	m.metrics.ConnState(types.ConnIdle)
}

// Status returns the current connection status.
func (m *Manager) Status() types.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// Current reports whether conn is the live connection.
func (m *Manager) Current(conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return conn.Gen == m.gen
}

func (m *Manager) statusLocked() types.ConnectionStatus {
	return types.ConnectionStatus{
		GroupID: m.groupID,
		State:   m.state,
		Backoff: m.delay,
		Errors:  m.errors,
		Polling: m.polling,
	}
}

func (m *Manager) teardownLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.pollTimer != nil {
		m.pollTimer.Stop()
		m.pollTimer = nil
	}
}

func (m *Manager) dialLocked(conn Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go m.run(ctx, conn, m.lastEventID)
}

func (m *Manager) run(ctx context.Context, conn Conn, lastEventID string) {
	defer m.wg.Done()
	logger := m.logger.With("group", conn.GroupID, "conn", uuid.NewString()[:8])

	m.emitStatus(conn)
	body, err := m.dialer.OpenStream(ctx, conn.GroupID, lastEventID)
	if err != nil {
		if ctx.Err() == nil {
			m.fail(conn, logger, err)
		}
		return
	}
	defer body.Close()

	if !m.markConnected(conn) {
		return
	}
	logger.Debug("stream connected", "last_event_id", lastEventID)
	m.emitStatus(conn)
	m.onConnected(conn)

	reader := NewReader(body)
	healthy := false
	for {
		frame, err := reader.Next()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				err = ErrStreamClosed
			}
			if errors.Is(err, ErrFrameTooLong) {
				m.metrics.Frame(metrics.FrameMalformed)
			}
			m.fail(conn, logger, err)
			return
		}
		if !healthy {
			if !m.markHealthy(conn) {
				return
			}
			healthy = true
			m.emitStatus(conn)
		}
		if frame.Event != "" && frame.Event != EventLedger {
			m.metrics.Frame(metrics.FrameIgnored)
			continue
		}
		if !m.recordFrame(conn, frame.ID) {
			m.metrics.Frame(metrics.FrameStale)
			return
		}
		m.onFrame(conn, frame.Data)
	}
}

func (m *Manager) markConnected(conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn.Gen != m.gen {
		return false
	}
	m.state = types.ConnConnected
	return true
}

// markHealthy runs on the first frame of a connection. A stream that is
// accepted and then closes before sending anything keeps its backoff.
func (m *Manager) markHealthy(conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn.Gen != m.gen {
		return false
	}
	m.backoff.Reset()
	m.delay = 0
	m.errors = 0
	if m.polling {
		m.polling = false
		if m.pollTimer != nil {
			m.pollTimer.Stop()
			m.pollTimer = nil
		}
	}
	return true
}

func (m *Manager) recordFrame(conn Conn, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn.Gen != m.gen {
		return false
	}
	if id != "" {
		m.lastEventID = id
	}
	return true
}

// fail moves a live connection to disconnected and schedules the retry.
func (m *Manager) fail(conn Conn, logger *slog.Logger, cause error) {
	m.mu.Lock()
	if conn.Gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.state = types.ConnDisconnected
	m.errors++
	m.delay = m.backoff.Next()
	m.retryTimer = m.clock.AfterFunc(m.delay, func() { m.retry(conn) })
	enteredPolling := false
	if m.errors >= m.maxErrors && !m.polling {
		m.polling = true
		enteredPolling = true
		m.schedulePollLocked(conn)
	}
	errCount, delay := m.errors, m.delay
	m.mu.Unlock()

	logger.Warn("stream disconnected", "error", cause, "errors", errCount, "retry_in", delay)
	if enteredPolling {
		logger.Warn("stream failing repeatedly, polling", "interval", m.pollInterval)
	}
	m.emitStatus(conn)
}

func (m *Manager) retry(conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn.Gen != m.gen {
		return
	}
	m.retryTimer = nil
	m.state = types.ConnConnecting
	m.metrics.Reconnect()
	m.dialLocked(conn)
}

func (m *Manager) schedulePollLocked(conn Conn) {
	m.pollTimer = m.clock.AfterFunc(m.pollInterval, func() { m.poll(conn) })
}

func (m *Manager) poll(conn Conn) {
	m.mu.Lock()
	if conn.Gen != m.gen || !m.polling {
		m.mu.Unlock()
		return
	}
	m.schedulePollLocked(conn)
	m.mu.Unlock()

	m.metrics.Poll()
	m.onPoll(conn)
}

func (m *Manager) emitStatus(conn Conn) {
	m.mu.Lock()
	if conn.Gen != m.gen {
		m.mu.Unlock()
		return
	}
	status := m.statusLocked()
	m.mu.Unlock()

	m.metrics.ConnState(status.State)
	m.onStatus(conn, status)
}
