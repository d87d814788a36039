package broadcast

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"tasktracker/domain"
)

// PoolConfig sizes the dispatch worker pool.
type PoolConfig struct {
	Workers int
	Buffer  int
	// Timeout bounds a single publish.
	Timeout time.Duration
	// Handoff is how long Notify waits for buffer space before publishing inline.
	Handoff time.Duration
}

type publishJob struct {
	event domain.StatusUpdatedEvent
}

// Dispatcher moves publishing off the request path. It implements
// domain.Notifier; failures are logged and dropped.
type Dispatcher struct {
	pub     Publisher
	log     *log.Logger
	jobs    chan publishJob
	timeout time.Duration
	handoff time.Duration
	now     func() time.Time

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewDispatcher starts cfg.Workers goroutines draining a buffered queue.
func NewDispatcher(pub Publisher, cfg PoolConfig, logger *log.Logger) *Dispatcher {
	if logger == nil {
		panic("broadcast.NewDispatcher: logger is nil")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	d := &Dispatcher{
		pub:     pub,
		log:     logger,
		jobs:    make(chan publishJob, cfg.Buffer),
		timeout: cfg.Timeout,
		handoff: cfg.Handoff,
		now:     time.Now,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Infof("broadcast dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.Timeout, cfg.Handoff)
	return d
}

// Notify publishes a status-updated event for task.
func (d *Dispatcher) Notify(ctx context.Context, task domain.Task) {
	job := publishJob{event: domain.NewStatusUpdatedEvent(task, d.now())}
	if d.tryEnqueue(job) {
		return
	}
	d.log.WithField("task", task.ID).Debug("dispatch queue saturated, publishing inline")
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	d.publish(pctx, job, -1)
}

// Close stops accepting jobs and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.jobs)
	})
	d.wg.Wait()
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for j := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		d.publish(ctx, j, id)
		cancel()
	}
}

func (d *Dispatcher) publish(ctx context.Context, j publishJob, worker int) {
	if err := d.pub.Publish(ctx, j.event); err != nil {
		d.log.Errorf("broadcast failed, err: %v, task: %d, worker: %d", err, j.event.Task.ID, worker)
	}
}

func (d *Dispatcher) tryEnqueue(job publishJob) bool {
	if ok, closed := trySendNonBlocking(d.jobs, job); closed {
		return false
	} else if ok {
		return true
	}

	if d.handoff <= 0 {
		return false
	}

	timer := time.NewTimer(d.handoff)
	defer timer.Stop()

	ok, closed := sendWithTimer(d.jobs, job, timer.C)
	if closed {
		return false
	}
	return ok
}

func trySendNonBlocking(ch chan publishJob, job publishJob) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan publishJob, job publishJob, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	case <-timer:
		return false, false
	}
}
