// Package scheduler runs callbacks at absolute times using a min-heap, and
// re-arms recurring jobs such as the periodic report.
package scheduler

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned when scheduling on a stopped scheduler
var ErrStopped = errors.New("scheduler is stopped")

// Job is a callback due at a fixed time
type Job struct {
	ID    string
	DueAt time.Time
	Run   func()
	index int
}

// jobHeap is a min-heap of jobs ordered by DueAt
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	return h[i].DueAt.Before(h[j].DueAt)
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	job := x.(*Job)
	job.index = len(*h)
	*h = append(*h, job)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	job.index = -1
	*h = old[:n-1]
	return job
}

// Scheduler dispatches due jobs to a fixed set of workers
type Scheduler struct {
	mu      sync.Mutex
	heap    jobHeap
	jobs    map[string]*Job
	wakeup  chan struct{}
	due     chan *Job
	workers int
	wg      sync.WaitGroup
	stopped bool
	stopCh  chan struct{}
}

// New creates a scheduler with the given number of workers
func New(workers int) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{
		jobs:    make(map[string]*Job),
		wakeup:  make(chan struct{}, 1),
		due:     make(chan *Job, workers),
		workers: workers,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the dispatch loop and workers
func (s *Scheduler) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.wg.Add(1)
	go s.run()
}

// Stop halts dispatching and waits for running jobs to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

// Schedule arranges for run to be called at dueAt. A job with the same id
// is replaced.
func (s *Scheduler) Schedule(id string, dueAt time.Time, run func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}

	if existing, ok := s.jobs[id]; ok {
		heap.Remove(&s.heap, existing.index)
	}

	job := &Job{ID: id, DueAt: dueAt, Run: run}
	heap.Push(&s.heap, job)
	s.jobs[id] = job

	if s.heap[0] == job {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}
	return nil
}

// Cancel removes a pending job
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false
	}
	heap.Remove(&s.heap, job.index)
	delete(s.jobs, id)
	return true
}

// Every runs fn at each aligned multiple of interval (plus offset) until the
// job is cancelled or the scheduler stops
func (s *Scheduler) Every(id string, interval, offset time.Duration, fn func()) error {
	if interval <= 0 {
		return errors.New("interval must be positive")
	}

	var arm func() error
	arm = func() error {
		return s.Schedule(id, NextRun(time.Now(), interval, offset), func() {
			fn()
			_ = arm()
		})
	}
	return arm()
}

// NextRun returns the first time after now that is an aligned multiple of
// interval shifted by offset
func NextRun(now time.Time, interval, offset time.Duration) time.Time {
	next := now.Truncate(interval).Add(offset)
	for !next.After(now) {
		next = next.Add(interval)
	}
	return next
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}

		wait := 24 * time.Hour
		if s.heap.Len() > 0 {
			next := s.heap[0]
			wait = time.Until(next.DueAt)
			if wait <= 0 {
				job := heap.Pop(&s.heap).(*Job)
				delete(s.jobs, job.ID)
				s.mu.Unlock()

				select {
				case s.due <- job:
				case <-s.stopCh:
					return
				}
				continue
			}
		}
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case job := <-s.due:
			job.Run()
		case <-s.stopCh:
			return
		}
	}
}

// Stats describes the scheduler's current load
type Stats struct {
	Pending int
	Workers int
	NextDue time.Time
}

// Stats returns the number of pending jobs and the earliest due time
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Pending: len(s.jobs), Workers: s.workers}
	if s.heap.Len() > 0 {
		st.NextDue = s.heap[0].DueAt
	}
	return st
}
