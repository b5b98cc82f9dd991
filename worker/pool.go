// Package worker runs pipeline jobs on a fixed set of OS-thread-locked
// goroutines so concurrent callers share one Detector without overlapping.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"LowLightDet/logger"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("worker pool closed")

// restartDelay is how long a worker waits before restarting after a panic.
var restartDelay = time.Second

type job struct {
	run    func() error
	result chan error
}

type Pool struct {
	jobs      chan job
	log       *zap.Logger
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
}

// New starts workersNum workers. Values below 1 start one.
func New(workersNum int, log *zap.Logger) *Pool {
	if workersNum < 1 {
		workersNum = 1
	}
	if log == nil {
		log = logger.Log()
	}
	p := &Pool{jobs: make(chan job, workersNum), log: log.Named("worker")}
	for i := 0; i < workersNum; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
	return p
}

func (p *Pool) runWorker(workerID int) {
	var current *job
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("worker panic, restarting", zap.Int("worker", workerID), zap.Any("panic", r))
			if current != nil {
				current.result <- fmt.Errorf("worker %d panic: %v", workerID, r)
			}
			time.Sleep(restartDelay)
			go p.runWorker(workerID)
			return
		}
		p.wg.Done()
	}()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	p.log.Debug("worker started", zap.Int("worker", workerID))
	for j := range p.jobs {
		current = &j
		j.result <- j.run()
		current = nil
	}
}

// Do runs fn on a worker and waits for it. ctx only bounds the time spent
// queued; once a worker has picked fn up, Do waits for it to finish.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	j := job{run: fn, result: make(chan error, 1)}
	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-j.result
}

// Close stops accepting jobs and waits for queued ones to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
		p.wg.Wait()
	})
}
