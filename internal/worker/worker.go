package worker

import (
	"context"

	"docquery/internal/models"
)

type JobType string

const (
	Parse JobType = "parse"
	Stop  JobType = "stop"
)

// ParseResult carries the parsed chunk set (or the failure) back to the
// submitting request.
type ParseResult struct {
	Chunks []models.Chunk
	Kind   string
	Err    error
}

// ParseTask asks the pool to parse one document off the request path.
type ParseTask struct {
	Context  context.Context
	TenantID int64
	Document *models.Document
	ResultCh chan ParseResult
}

type Job struct {
	Type JobType
	Task *ParseTask
}

// Runner executes a parse task; the ingestion pipeline provides it.
type Runner interface {
	Run(task *ParseTask)
}

type Worker struct {
	pool       *jobChannelPool
	runner     Runner
	jobChannel chan Job
}

func NewWorker(pool *jobChannelPool, runner Runner) *Worker {
	return &Worker{
		pool:       pool,
		runner:     runner,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		for {
			// park in the idle pool until the dispatcher hands us a job
			w.pool.Release(w.jobChannel)
			job := <-w.jobChannel
			switch job.Type {
			case Stop:
				w.pool.retire(w.jobChannel)
				return
			case Parse:
				if job.Task != nil {
					w.runner.Run(job.Task)
				}
			}
		}
	}()
}
