package worker

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"pdfchat/internal/logger"
)

type JobType int

const (
	Command JobType = iota
	Select
	Relay
	Stop
)

func (t JobType) String() string {
	switch t {
	case Command:
		return "command"
	case Select:
		return "select"
	case Relay:
		return "relay"
	case Stop:
		return "stop"
	default:
		return fmt.Sprintf("job(%d)", int(t))
	}
}

// Job is one unit of work for a single user.
type Job struct {
	Type   JobType
	UserID int64
	Run    func(ctx context.Context)

	finish func()
}

type Worker struct {
	pool       *jobChannelPool
	jobChannel chan Job
}

func NewWorker(pool *jobChannelPool) *Worker {
	return &Worker{
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		defer w.pool.retire(w.jobChannel)
		for {
			if !w.pool.Release(w.jobChannel) {
				return
			}
			job := <-w.jobChannel
			if job.Type == Stop {
				return
			}
			w.execute(job)
		}
	}()
}

func (w *Worker) execute(job Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"user_id": job.UserID,
				"job":     job.Type.String(),
			}).Errorf("job panicked: %v\n%s", r, debug.Stack())
		}
		if job.finish != nil {
			job.finish()
		}
	}()
	if job.Run != nil {
		job.Run(w.pool.ctx)
	}
}
