package client

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// ConnState is the push transport's connectivity as seen by the client.
type ConnState string

const (
	ConnInitialized  ConnState = "initialized"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnUnavailable  ConnState = "unavailable"
	ConnDisconnected ConnState = "disconnected"
	ConnFailed       ConnState = "failed"
)

// ErrAlreadySubscribed is returned when a transport is subscribed twice.
var ErrAlreadySubscribed = errors.New("push transport already subscribed")

// PushHandler receives transport callbacks. Calls arrive on the transport's
// goroutine and must not block for long.
type PushHandler interface {
	HandleState(ConnState)
	HandleEvent(event string, data []byte)
}

// Transport is a push channel for task broadcasts.
type Transport interface {
	Subscribe(ctx context.Context, h PushHandler) error
	State() ConnState
	Unsubscribe()
}

// SSETransport consumes the server-sent events stream and reconnects with
// exponential backoff.
type SSETransport struct {
	url        string
	http       *http.Client
	log        *log.Logger
	minBackoff time.Duration
	maxBackoff time.Duration

	state  atomic.Value
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSSETransport creates a transport for streamURL. The HTTP client must not
// carry a request timeout since the stream is long lived.
func NewSSETransport(streamURL string, hc *http.Client, logger *log.Logger) *SSETransport {
	if hc == nil {
		hc = &http.Client{}
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	t := &SSETransport{
		url:        streamURL,
		http:       hc,
		log:        logger,
		minBackoff: time.Second,
		maxBackoff: 5 * time.Second,
	}
	t.state.Store(ConnInitialized)
	return t
}

// State returns the last observed connectivity.
func (t *SSETransport) State() ConnState {
	return t.state.Load().(ConnState)
}

// Subscribe starts the connect loop in the background.
func (t *SSETransport) Subscribe(ctx context.Context, h PushHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return ErrAlreadySubscribed
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(ctx, h, t.done)
	return nil
}

// Unsubscribe stops the connect loop and waits for it to exit. It is safe to
// call when not subscribed.
func (t *SSETransport) Unsubscribe() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	t.state.Store(ConnDisconnected)
}

func (t *SSETransport) setState(h PushHandler, s ConnState) {
	if prev := t.state.Swap(s); prev == s {
		return
	}
	t.log.WithField("state", s).Debug("push transport state")
	h.HandleState(s)
}

func (t *SSETransport) run(ctx context.Context, h PushHandler, done chan struct{}) {
	defer close(done)
	backoff := t.minBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		t.setState(h, ConnConnecting)
		next, retry := t.connect(ctx, h)
		if ctx.Err() != nil {
			return
		}
		if !retry {
			t.setState(h, ConnFailed)
			return
		}
		t.setState(h, next)
		if next == ConnDisconnected {
			backoff = t.minBackoff
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, t.maxBackoff)
	}
}

// connect holds one stream open. It returns the state to report once the
// stream is gone and whether reconnecting makes sense.
func (t *SSETransport) connect(ctx context.Context, h PushHandler) (ConnState, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		t.log.WithError(err).Error("push transport request")
		return ConnFailed, false
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := t.http.Do(req)
	if err != nil {
		t.log.WithError(err).Debug("push transport connect failed")
		return ConnUnavailable, true
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusMethodNotAllowed:
		// the server runs without a push channel
		t.log.WithField("status", resp.StatusCode).Info("push transport not offered by server")
		return ConnFailed, false
	default:
		t.log.WithField("status", resp.StatusCode).Debug("push transport rejected")
		return ConnUnavailable, true
	}

	t.setState(h, ConnConnected)
	if err := readEvents(resp.Body, h.HandleEvent); err != nil && ctx.Err() == nil {
		t.log.WithError(err).Debug("push transport stream ended")
	}
	return ConnDisconnected, true
}

// readEvents parses an event stream, dispatching each complete event. Comment
// lines are heartbeats and are skipped.
func readEvents(r io.Reader, emit func(event string, data []byte)) error {
	reader := bufio.NewReader(r)
	var (
		event string
		data  strings.Builder
	)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if data.Len() > 0 {
				name := event
				if name == "" {
					name = "message"
				}
				emit(name, []byte(data.String()))
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}
