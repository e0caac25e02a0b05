package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pdfchat/internal/logger"
)

var (
	ErrDispatcherBusy    = errors.New("dispatcher queue is full")
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)

type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

type userQueue struct {
	jobs     []Job
	enqueued bool // waiting in the ready list
	running  bool // a job of this user is on a worker
}

// Dispatcher runs jobs on an elastic worker pool. Jobs of one user run one at
// a time in submission order; users with pending work take turns.
type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job // interface for outer jobs get in the dispatcher
	wake     chan struct{}
	cancel   context.CancelFunc
	ctx      context.Context
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	queues  map[int64]*userQueue // job queue for each user
	ready   *list.List           // round-robin queue storing user IDs
	pending int
}

func NewDispatcher(parent context.Context, cfg Config) *Dispatcher {
	ctx, cancel := context.WithCancel(parent)
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	pool := newJobChannelPool(ctx, cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout)

	d := &Dispatcher{
		pool:     pool,
		jobQueue: make(chan Job, cfg.QueueSize),
		wake:     make(chan struct{}, 1),
		cancel:   cancel,
		ctx:      ctx,
		done:     make(chan struct{}),
		queues:   make(map[int64]*userQueue),
		ready:    list.New(),
	}

	for i := 0; i < pool.min; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit hands a job to the dispatcher without blocking.
func (d *Dispatcher) Submit(job Job) error {
	select {
	case <-d.ctx.Done():
		return ErrDispatcherStopped
	default:
	}
	select {
	case d.jobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

// Stop cancels running jobs, drops queued ones and waits for workers to exit.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.cancel()
		d.pool.close()
		<-d.done
	})
}

// Pending returns the number of jobs accepted but not yet started.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending + len(d.jobQueue)
}

// Workers returns the current pool size.
func (d *Dispatcher) Workers() int {
	return d.pool.size()
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		if d.dispatchOne() {
			// if we have a new job, enqueue it and its caller user
			select {
			case job := <-d.jobQueue:
				d.enqueueJob(job)
			default:
			}
			continue
		}
		select {
		case <-d.ctx.Done():
			return
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		case <-d.wake:
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.UserID]
	if q == nil {
		q = &userQueue{}
		d.queues[job.UserID] = q
	}
	q.jobs = append(q.jobs, job)
	d.pending++
	if q.enqueued || q.running {
		return
	}
	q.enqueued = true
	d.ready.PushBack(job.UserID)
}

// dispatchOne get first ready user and dispatch its oldest job
func (d *Dispatcher) dispatchOne() bool {
	select {
	case <-d.ctx.Done():
		return false
	default:
	}

	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	userID := elem.Value.(int64)
	q := d.queues[userID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.enqueued = false
	q.running = true
	d.ready.Remove(elem)
	d.pending--
	d.mu.Unlock()

	job.finish = func() { d.complete(userID) }

	workerChan := d.pool.acquire()
	if workerChan == nil {
		// the pool only closes on shutdown; the popped job is lost
		logger.WithFields(logrus.Fields{
			"user_id": userID,
			"job":     job.Type.String(),
		}).Warn("pool closed, dropping job")
		return false
	}
	debugLog("[dispatcher] assign %s job for user %d to worker-%d", job.Type, userID, d.pool.workerID(workerChan))
	workerChan <- job
	return true
}

// complete marks the user idle and requeues it when more jobs are waiting.
func (d *Dispatcher) complete(userID int64) {
	d.mu.Lock()
	if q := d.queues[userID]; q != nil {
		q.running = false
		if len(q.jobs) == 0 {
			delete(d.queues, userID)
		} else if !q.enqueued {
			q.enqueued = true
			d.ready.PushBack(userID)
		}
	}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}
