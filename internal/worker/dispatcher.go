package worker

import (
	"container/list"
	"sync"
	"time"
)

type ownerQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher hands jobs to pooled workers, rotating between owners so one
// owner with many uploads cannot starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // entry point for outer jobs

	mu        sync.Mutex
	queues    map[int64]*ownerQueue // pending jobs per owner
	ready     *list.List            // owners with pending jobs, round robin
	positions map[int64]*list.Element
	done      chan struct{}
	closeOnce sync.Once
}

func NewDispatcher(minWorkers, maxWorkers, queueSize int, idleTimeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	pool := newJobChannelPool(minWorkers, maxWorkers, idleTimeout)
	d := &Dispatcher{
		queues:    make(map[int64]*ownerQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
		pool:      pool,
		JobQueue:  make(chan Job, queueSize),
		done:      make(chan struct{}),
	}

	for i := 0; i < minWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues a job without blocking.
func (d *Dispatcher) Submit(job Job) error {
	select {
	case <-d.done:
		return ErrDispatcherBusy
	default:
	}
	select {
	case d.JobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

// Close stops dispatching and retires idle workers. Queued jobs are dropped.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
		d.pool.stopAll()
	})
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of the owner at the front of the ring
		if !d.dispatchOne() {
			select {
			case job := <-d.JobQueue:
				d.enqueueJob(job)
			case <-d.done:
				return
			}
			continue
		}
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		case <-d.done:
			return
		default:
		}
	}
}

// CancelOwner drops the owner's pending jobs.
func (d *Dispatcher) CancelOwner(ownerID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.queues, ownerID)
	if elem, ok := d.positions[ownerID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, ownerID)
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.OwnerID]
	if q == nil {
		q = &ownerQueue{}
		d.queues[job.OwnerID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.OwnerID] = d.ready.PushBack(job.OwnerID)
}

// dispatchOne takes the next job of the front owner and hands it to a worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	ownerID := elem.Value.(int64)
	q := d.queues[ownerID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, ownerID)
		delete(d.queues, ownerID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	debugLog("[dispatcher] assign %s job for owner %d to worker-%d", job.Type, ownerID, d.pool.workerID(workerChan))
	workerChan <- job
	return true
}
