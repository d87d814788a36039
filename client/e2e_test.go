package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"tasktracker/api"
	"tasktracker/broadcast"
	"tasktracker/domain"
	"tasktracker/storage"
)

type stack struct {
	srv *httptest.Server
	api *Client
	hub *broadcast.Hub
}

// newStack serves the real handlers over SQLite. With push enabled, status
// changes fan out through the in-process hub to the SSE endpoint.
func newStack(t *testing.T, push bool) *stack {
	t.Helper()
	st, err := storage.OpenSQL(filepath.Join(t.TempDir(), "client.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := storage.Seed(context.Background(), st, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	logger, _ := test.NewNullLogger()
	hub := broadcast.NewHub(8)
	var (
		pub    broadcast.Publisher
		opts   = api.Options{Health: st, Heartbeat: time.Second}
		driver = "log"
	)
	if push {
		pub = broadcast.NewLocalPublisher(hub)
		opts.Stream = hub
		driver = "local"
	} else {
		pub = broadcast.NewLogPublisher(logger)
	}
	opts.BroadcastDriver = driver
	dispatcher := broadcast.NewDispatcher(pub, broadcast.PoolConfig{Workers: 1, Buffer: 8}, logger)
	t.Cleanup(dispatcher.Close)

	e := api.NewEcho()
	api.Register(e, domain.NewTaskService(st, st, dispatcher), st, opts, logger)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return &stack{srv: srv, api: New(srv.URL, srv.Client()), hub: hub}
}

func tomorrow() string {
	return time.Now().UTC().AddDate(0, 0, 1).Format("2006-01-02")
}

func TestClientAgainstServer(t *testing.T) {
	s := newStack(t, false)
	ctx := context.Background()

	data, err := s.api.PageData(ctx)
	if err != nil {
		t.Fatalf("page data: %v", err)
	}
	if len(data.Categories) != 5 || len(data.Priorities) != 4 {
		t.Fatalf("unexpected reference data %+v", data)
	}

	task, err := s.api.CreateTask(ctx, domain.NewTask{
		Title: "Write spec", Description: "Describe it", DueDate: tomorrow(), CategoryID: 1, PriorityID: 3,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Status != domain.StatusPending || task.Category == nil || task.Category.Name != "Development" {
		t.Fatalf("unexpected task %+v", task)
	}

	page, err := s.api.ListTasks(ctx, "", 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Data[0].ID != task.ID || page.PerPage != domain.DefaultPerPage || len(page.Data) > 10 {
		t.Fatalf("unexpected page %+v", page)
	}

	_, err = s.api.CreateTask(ctx, domain.NewTask{Title: "x"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.Validation() || len(apiErr.Fields["description"]) == 0 {
		t.Fatalf("expected validation error, got %v", err)
	}

	_, err = s.api.UpdateStatus(ctx, 999999, domain.StatusCompleted)
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
	_, err = s.api.UpdateStatus(ctx, task.ID, domain.Status("archived"))
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %v", err)
	}

	since := time.Now().Add(-2 * time.Second)
	updated, err := s.api.UpdateStatus(ctx, task.ID, domain.StatusInProgress)
	if err != nil || updated.Status != domain.StatusInProgress {
		t.Fatalf("update: %+v %v", updated, err)
	}
	updates, err := s.api.Updates(ctx, since)
	if err != nil {
		t.Fatalf("updates: %v", err)
	}
	var found bool
	for _, n := range updates {
		if n.Payload.Task.ID == task.ID && n.Payload.Task.Status == domain.StatusInProgress {
			found = true
		}
	}
	if !found {
		t.Fatalf("status change missing from updates %+v", updates)
	}
}

func TestSessionReceivesPushedStatusChange(t *testing.T) {
	s := newStack(t, true)
	ctx := context.Background()
	logger, _ := test.NewNullLogger()

	list := NewTaskList()
	tracker := NewTracker(s.api, list, nil, logger)
	if err := tracker.FetchTasks(ctx, 1, ""); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	target := list.Tasks()[0]

	poller := &fakePoller{}
	transport := NewSSETransport(s.api.StreamURL(), nil, logger)
	merges := &mergeLog{}
	cfg := fastConfig()
	cfg.OnMerge = merges.record
	session := NewSession(cfg, transport, poller, list, logger)
	tracker.realtime = session
	if err := session.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(session.Stop)
	waitFor(t, "push active", session.PushActive)
	waitFor(t, "stream subscriber", func() bool { return s.hub.Subscribers() == 1 })

	next := domain.StatusCancelled
	if target.Status == next {
		next = domain.StatusInProgress
	}
	if _, err := tracker.UpdateStatus(ctx, target.ID, next); err != nil {
		t.Fatalf("update: %v", err)
	}
	waitFor(t, "pushed merge", func() bool { return statusOf(list, target.ID) == next })
	if merges.count(target.ID) != 1 {
		t.Fatalf("expected exactly one merge, got %d", merges.count(target.ID))
	}
	if poller.callCount() != 0 {
		t.Fatal("push mode must not poll")
	}

	session.Stop()
	waitFor(t, "stream closed", func() bool { return s.hub.Subscribers() == 0 })
}

func TestSessionPollsWhenServerHasNoPush(t *testing.T) {
	s := newStack(t, false)
	ctx := context.Background()
	logger, _ := test.NewNullLogger()

	list := NewTaskList()
	tracker := NewTracker(s.api, list, nil, logger)
	if err := tracker.FetchTasks(ctx, 1, ""); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	target := list.Tasks()[0]

	cfg := fastConfig()
	cfg.PollInterval = 50 * time.Millisecond
	session := NewSession(cfg, NewSSETransport(s.api.StreamURL(), nil, logger), s.api, list, logger)
	if err := session.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(session.Stop)
	waitFor(t, "polling", session.PollingActive)

	next := domain.StatusCompleted
	if target.Status == next {
		next = domain.StatusCancelled
	}
	// a second client changes the task; this list only sees it by polling
	if _, err := s.api.UpdateStatus(ctx, target.ID, next); err != nil {
		t.Fatalf("update: %v", err)
	}
	waitFor(t, "polled merge", func() bool { return statusOf(list, target.ID) == next })
}
