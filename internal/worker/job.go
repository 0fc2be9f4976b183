package worker

import (
	"errors"
	"time"
)

// ErrDispatcherBusy is returned when the job queue is full.
var ErrDispatcherBusy = errors.New("dispatcher busy")

type JobType string

const (
	Analyze JobType = "analyze"
	Stop    JobType = "stop"
)

// Job is a unit of work for one owner.
type Job struct {
	Type    JobType
	OwnerID int64
	Run     func()
}

type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}
