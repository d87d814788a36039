package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"tasktracker/domain"
)

// State is the session's realtime mode.
type State int32

const (
	StateUninitialized State = iota
	StateConnectingPush
	StatePushActive
	StatePollingActive
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnectingPush:
		return "connecting_push"
	case StatePushActive:
		return "push_active"
	case StatePollingActive:
		return "polling_active"
	default:
		return "unknown"
	}
}

// ErrSessionStarted is returned by Start on a running session.
var ErrSessionStarted = errors.New("session already started")

// Poller fetches recent status changes.
type Poller interface {
	Updates(ctx context.Context, since time.Time) ([]domain.Notification, error)
}

// SessionConfig tunes the session timers.
type SessionConfig struct {
	PollInterval   time.Duration
	PollLookback   time.Duration
	WatchInterval  time.Duration
	ConnectTimeout time.Duration
	// ForcePolling skips push entirely, e.g. for offline development.
	ForcePolling bool

	// Optional observers, invoked on the session goroutine.
	OnTransition func(from, to State)
	OnMerge      func(task domain.Task, applied bool)
}

// DefaultSessionConfig returns the standard timer settings.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		PollInterval:   3 * time.Second,
		PollLookback:   5 * time.Second,
		WatchInterval:  5 * time.Second,
		ConnectTimeout: 5 * time.Second,
	}
}

type eventKind int

const (
	evTransportState eventKind = iota
	evPush
	evWatch
	evConnectTimeout
	evPollTick
	evPollResult
)

type sessionEvent struct {
	kind    eventKind
	conn    ConnState
	name    string
	data    []byte
	gen     uint64
	updates []domain.Notification
	err     error
}

// run is the per-Start context and event queue. It is also the push handler
// handed to the transport, so transport callbacks only enqueue.
type run struct {
	ctx    context.Context
	events chan sessionEvent
}

func (r *run) post(ev sessionEvent) {
	select {
	case r.events <- ev:
	case <-r.ctx.Done():
	}
}

func (r *run) HandleState(s ConnState) {
	r.post(sessionEvent{kind: evTransportState, conn: s})
}

func (r *run) HandleEvent(name string, data []byte) {
	r.post(sessionEvent{kind: evPush, name: name, data: data})
}

// Session keeps a TaskList in step with the server, preferring push and
// falling back to interval polling.
type Session struct {
	id        string
	cfg       SessionConfig
	transport Transport
	poller    Poller
	list      *TaskList
	log       *log.Entry
	now       func() time.Time

	state atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// owned by the session goroutine
	subscribed   bool
	stopWatch    func()
	connectTimer *time.Timer
	connectGen   uint64
	stopPoll     func()
	pollGen      uint64
	polling      bool
	pollInFlight bool
}

// NewSession creates a stopped session. transport may be nil, in which case
// the session always polls.
func NewSession(cfg SessionConfig, transport Transport, poller Poller, list *TaskList, logger *log.Logger) *Session {
	if poller == nil || list == nil {
		panic("client: session needs a poller and a task list")
	}
	def := DefaultSessionConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollLookback <= 0 {
		cfg.PollLookback = def.PollLookback
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = def.WatchInterval
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	id := uuid.NewString()
	return &Session{
		id:        id,
		cfg:       cfg,
		transport: transport,
		poller:    poller,
		list:      list,
		log:       logger.WithField("session", id),
		now:       time.Now,
	}
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) PushActive() bool {
	return s.State() == StatePushActive
}

func (s *Session) PollingActive() bool {
	return s.State() == StatePollingActive
}

// Start launches the session goroutine. The session runs until Stop is called
// or ctx is cancelled.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrSessionStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &run{ctx: ctx, events: make(chan sessionEvent, 64)}
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(r, s.done)
	return nil
}

// Stop tears the session down and waits for it. Calling Stop on a stopped
// session does nothing.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Session) loop(r *run, done chan struct{}) {
	defer close(done)
	defer s.teardown()
	s.begin(r)
	for {
		select {
		case <-r.ctx.Done():
			return
		case ev := <-r.events:
			s.handle(r, ev)
		}
	}
}

func (s *Session) begin(r *run) {
	if s.cfg.ForcePolling || s.transport == nil {
		s.log.Info("push disabled, polling for updates")
		s.enterPolling(r)
		return
	}
	if err := s.transport.Subscribe(r.ctx, r); err != nil {
		s.log.WithError(err).Warn("push subscribe failed, polling for updates")
		s.enterPolling(r)
		return
	}
	s.subscribed = true
	s.setState(StateConnectingPush)
	s.stopWatch = every(r, s.cfg.WatchInterval, sessionEvent{kind: evWatch})
	s.connectGen++
	timeout := sessionEvent{kind: evConnectTimeout, gen: s.connectGen}
	s.connectTimer = time.AfterFunc(s.cfg.ConnectTimeout, func() { r.post(timeout) })
}

// handle is the only place the state changes.
func (s *Session) handle(r *run, ev sessionEvent) {
	switch ev.kind {
	case evTransportState:
		s.connectivity(r, ev.conn)
	case evWatch:
		s.connectivity(r, s.transport.State())
	case evConnectTimeout:
		if ev.gen != s.connectGen || s.State() != StateConnectingPush {
			return
		}
		s.log.WithField("timeout", s.cfg.ConnectTimeout).Info("push not connected in time, polling for updates")
		s.enterPolling(r)
	case evPush:
		if ev.name != domain.TaskStatusUpdated {
			return
		}
		var payload domain.StatusUpdatedEvent
		if err := sonic.ConfigStd.Unmarshal(ev.data, &payload); err != nil {
			s.log.WithError(err).Warn("discarding malformed push event")
			return
		}
		if s.State() != StatePushActive {
			s.enterPush()
		}
		s.merge(payload.Task, "push")
	case evPollTick:
		if ev.gen != s.pollGen || !s.polling || s.pollInFlight {
			return
		}
		s.pollInFlight = true
		go s.poll(r, ev.gen)
	case evPollResult:
		if ev.gen != s.pollGen {
			return
		}
		s.pollInFlight = false
		if ev.err != nil {
			s.log.WithError(ev.err).Warn("poll failed")
			return
		}
		for _, n := range ev.updates {
			s.merge(n.Payload.Task, "poll")
		}
	}
}

func (s *Session) connectivity(r *run, conn ConnState) {
	switch s.State() {
	case StateConnectingPush:
		switch conn {
		case ConnConnected:
			s.enterPush()
		case ConnDisconnected, ConnUnavailable, ConnFailed:
			s.enterPolling(r)
		}
	case StatePushActive:
		if conn != ConnConnected {
			s.enterPolling(r)
		}
	case StatePollingActive:
		if conn == ConnConnected {
			s.enterPush()
		}
	}
}

func (s *Session) enterPush() {
	s.cancelConnectTimer()
	s.stopPolling()
	s.setState(StatePushActive)
}

func (s *Session) enterPolling(r *run) {
	s.cancelConnectTimer()
	s.setState(StatePollingActive)
	if s.polling {
		return
	}
	s.pollGen++
	s.polling = true
	s.pollInFlight = false
	s.stopPoll = every(r, s.cfg.PollInterval, sessionEvent{kind: evPollTick, gen: s.pollGen})
}

func (s *Session) stopPolling() {
	if !s.polling {
		return
	}
	s.stopPoll()
	s.stopPoll = nil
	s.pollGen++
	s.polling = false
	s.pollInFlight = false
}

func (s *Session) cancelConnectTimer() {
	if s.connectTimer == nil {
		return
	}
	s.connectTimer.Stop()
	s.connectTimer = nil
	s.connectGen++
}

func (s *Session) poll(r *run, gen uint64) {
	ctx, cancel := context.WithTimeout(r.ctx, s.cfg.PollInterval)
	defer cancel()
	updates, err := s.poller.Updates(ctx, s.now().Add(-s.cfg.PollLookback))
	r.post(sessionEvent{kind: evPollResult, gen: gen, updates: updates, err: err})
}

func (s *Session) merge(task domain.Task, source string) {
	applied := s.list.Merge(task)
	s.log.WithFields(log.Fields{
		"task":    task.ID,
		"status":  task.Status,
		"source":  source,
		"applied": applied,
	}).Debug("merge")
	if s.cfg.OnMerge != nil {
		s.cfg.OnMerge(task, applied)
	}
}

func (s *Session) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	s.log.WithFields(log.Fields{"from": from, "to": to}).Info("session state")
	if s.cfg.OnTransition != nil {
		s.cfg.OnTransition(from, to)
	}
}

func (s *Session) teardown() {
	if s.stopWatch != nil {
		s.stopWatch()
		s.stopWatch = nil
	}
	s.cancelConnectTimer()
	s.stopPolling()
	if s.subscribed {
		s.transport.Unsubscribe()
		s.subscribed = false
	}
	s.setState(StateUninitialized)
}

// every enqueues ev on each tick until the returned stop func is called or
// the run ends.
func every(r *run, d time.Duration, ev sessionEvent) func() {
	stop := make(chan struct{})
	go func() {
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-r.ctx.Done():
				return
			case <-t.C:
				select {
				case r.events <- ev:
				case <-stop:
					return
				case <-r.ctx.Done():
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(stop) }) }
}
