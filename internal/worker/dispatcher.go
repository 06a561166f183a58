package worker

import (
	"container/list"
	"sync"
	"time"

	"docquery/internal/models"
)

type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

type tenantQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher feeds parse jobs to the worker pool, draining per-tenant FIFO
// queues in least-recently-served order so one tenant's bulk upload cannot
// starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job

	mu        sync.Mutex
	queues    map[int64]*tenantQueue // job queue for each tenant
	ready     *list.List             // LRU queue storing tenant IDs
	positions map[int64]*list.Element

	inflight *inflightSet
}

func NewDispatcher(cfg DispatcherConfig, runner Runner) *Dispatcher {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 16
	}
	pool := newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout, runner)

	d := &Dispatcher{
		queues:    make(map[int64]*tenantQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
		pool:      pool,
		jobQueue:  make(chan Job, queueSize),
		inflight:  newInflightSet(),
	}

	// Warm up the minimum worker count so the first upload pays no spawn cost.
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit enqueues a parse job; a full queue is backpressure, not a wait.
func (d *Dispatcher) Submit(job Job) error {
	select {
	case d.jobQueue <- job:
		return nil
	default:
		return models.ErrDispatcherBusy
	}
}

// Begin marks a document as being processed; returns false if a run for
// that document is already in flight.
func (d *Dispatcher) Begin(documentID int64) bool {
	return d.inflight.begin(documentID)
}

// End clears the in-flight marker for a document.
func (d *Dispatcher) End(documentID int64) {
	d.inflight.end(documentID)
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of the least recently served tenant
		if !d.dispatchOne() {
			job := <-d.jobQueue // force congestion
			d.enqueueJob(job)
			continue
		}
		select {
		case job := <-d.jobQueue: // non-congestion
			d.enqueueJob(job)
		default:
		}
	}
}

// CancelTenant drops every queued (not yet dispatched) job for a tenant.
func (d *Dispatcher) CancelTenant(tenantID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.queues, tenantID)
	if elem, ok := d.positions[tenantID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, tenantID)
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	tenantID := job.tenantID()

	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[tenantID]
	if q == nil {
		q = &tenantQueue{}
		d.queues[tenantID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		// tenant already in the ready list, skip
		return
	}
	q.enqueued = true
	elem := d.ready.PushBack(tenantID)
	d.positions[tenantID] = elem
}

// dispatchOne get first tenant in LRU and dispatch its job
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	for elem != nil {
		tenantID := elem.Value.(int64)
		q := d.queues[tenantID]
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		if len(q.jobs) == 0 {
			// last queued job for this tenant, drop it from the ready list
			q.enqueued = false
			d.ready.Remove(elem)
			delete(d.positions, tenantID)
		} else {
			d.ready.MoveToBack(elem)
		}
		d.mu.Unlock()

		workerChan := d.pool.acquire()
		debugLog("[dispatcher] assign %s job for tenant %d", job.Type, tenantID)
		workerChan <- job
		return true
	}
	d.mu.Unlock()
	return false
}

func (job Job) tenantID() int64 {
	if job.Task != nil {
		return job.Task.TenantID
	}
	return 0
}
