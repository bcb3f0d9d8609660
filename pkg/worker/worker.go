package worker

import (
	"fmt"
	"sync/atomic"

	"github.com/hbomb79/Telluride/pkg/logger"
)

var workerLogger = logger.Get("Worker")

// Task is a unit of work executed by exactly one worker.
type Task func()

type WorkerStatus int32

const (
	Sleeping WorkerStatus = iota
	Working
	Finished
)

func (s WorkerStatus) String() string {
	return []string{"SLEEPING", "WORKING", "FINISHED"}[s]
}

type Worker interface {
	Start(tasks <-chan Task, quit <-chan struct{})
	Status() WorkerStatus
	Label() string
}

type taskWorker struct {
	label         string
	currentStatus atomic.Int32
}

func NewWorker(label string) *taskWorker {
	return &taskWorker{label: label}
}

// Start blocks, executing tasks received on the tasks channel until
// the quit channel is closed. A task which has already been received
// is always executed to completion before quit is observed.
func (worker *taskWorker) Start(tasks <-chan Task, quit <-chan struct{}) {
	workerLogger.Emit(logger.NEW, "Starting worker %v\n", worker.label)
	defer func() {
		worker.setStatus(Finished)
		workerLogger.Emit(logger.STOP, "Worker %v has stopped\n", worker.label)
	}()

	for {
		worker.setStatus(Sleeping)
		select {
		case task := <-tasks:
			worker.setStatus(Working)
			worker.execute(task)
		case <-quit:
			return
		}
	}
}

func (worker *taskWorker) execute(task Task) {
	defer func() {
		if r := recover(); r != nil {
			workerLogger.Emit(logger.ERROR, "Worker %v recovered from panic in task: %v\n", worker.label, r)
		}
	}()

	task()
}

// Status returns the current status of this worker
func (worker *taskWorker) Status() WorkerStatus {
	return WorkerStatus(worker.currentStatus.Load())
}

// Label returns the label for this worker
func (worker *taskWorker) Label() string {
	return worker.label
}

func (worker *taskWorker) setStatus(status WorkerStatus) {
	worker.currentStatus.Store(int32(status))
}

func (worker *taskWorker) String() string {
	return fmt.Sprintf("{worker label=%s status=%s}", worker.label, worker.Status())
}
