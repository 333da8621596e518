// Package utils provides small pieces of ambient infrastructure shared by
// more than one package — currently a tomb-supervised worker pool used to
// parallelize dataset ingestion.
package utils

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const taskChanSize = 256

// WorkerFunction is the unit of work a WorkerPool runs for each task handed
// to it via AddTask.
type WorkerFunction = func(t *tomb.Tomb, task any) error

// WorkerPool runs a fixed number of goroutines pulling tasks off a shared
// channel, supervised by a tomb so the whole pool shuts down cleanly when the
// tomb dies.
type WorkerPool struct {
	n     int
	tasks chan any
}

// NewWorkerPool builds a pool with size workers.
func NewWorkerPool(size int) WorkerPool {
	return WorkerPool{
		tasks: make(chan any, taskChanSize),
		n:     size,
	}
}

// AddTask enqueues a task for the pool to pick up. Blocks if the pool's
// internal queue is full.
func (pool *WorkerPool) AddTask(task any) {
	pool.tasks <- task
}

// Close signals no further tasks will be added, allowing workers to drain
// and exit once the queue is empty.
func (pool *WorkerPool) Close() {
	close(pool.tasks)
}

// Run spawns the pool's workers under t and returns immediately. The workers
// exit once every task queued before Close has been processed or t dies;
// t.Wait blocks until then.
func (pool *WorkerPool) Run(t *tomb.Tomb, work WorkerFunction) {
	log.Info().Int("workers", pool.n).Msg("starting worker pool")
	for i := 0; i < pool.n; i++ {
		t.Go(func() error {
			return pool.worker(t, work)
		})
	}
}

func (pool *WorkerPool) worker(t *tomb.Tomb, work WorkerFunction) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task, ok := <-pool.tasks:
			if !ok {
				return nil
			}
			if err := work(t, task); err != nil {
				log.Error().Err(err).Msg("worker exiting")
				return err
			}
		}
	}
}
