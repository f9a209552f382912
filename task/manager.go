package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Manager serializes outgoing protocol operations against the single
// logical connection: tasks execute one at a time, in enqueue order,
// surviving restarts through the archiver.
type Manager struct {
	mu          sync.Mutex
	queue       []*Task
	archiver    Archiver
	executor    *Executor
	policy      RetryPolicy
	notify      chan struct{}
	stopCh      chan struct{}
	running     bool
	wg          sync.WaitGroup
	activeTask   *Task
	cancelActive context.CancelFunc
}

// NewManager creates a task manager writing through the given archiver.
func NewManager(executor *Executor, archiver Archiver, policy RetryPolicy) *Manager {
	policy = policy.normalized()
	executor.Policy = policy

	m := &Manager{
		archiver: archiver,
		executor: executor,
		policy:   policy,
		notify:   make(chan struct{}, 1),
	}
	executor.OnProgress = func(t *Task) {
		if err := archiver.Put(t); err != nil {
			logrus.WithError(err).Warn("Failed to update archived task progress")
		}
	}
	return m
}

// Resume loads archived tasks from a previous process into the queue.
// Call before Start.
func (m *Manager) Resume() error {
	archived, err := m.archiver.List()
	if err != nil {
		return fmt.Errorf("failed to resume archived tasks: %w", err)
	}

	m.mu.Lock()
	m.queue = append(m.queue, archived...)
	m.mu.Unlock()

	if len(archived) > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Resume",
			"tasks":    len(archived),
		}).Info("Resumed archived tasks")
		m.wake()
	}
	return nil
}

// Start launches the dispatch worker.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})

	m.wg.Add(1)
	go m.workerLoop()
}

// Stop halts the dispatch worker. Queued and in-retry tasks stay archived
// and resume on the next Start.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	if m.cancelActive != nil {
		m.cancelActive()
	}
	m.mu.Unlock()

	m.wg.Wait()
}

// Schedule archives and enqueues a task. Cheap and synchronous; execution
// happens on the dispatch worker.
func (m *Manager) Schedule(t *Task) error {
	if len(t.Identities) == 0 {
		return errors.New("task has no target identities")
	}

	if err := m.archiver.Put(t); err != nil {
		return fmt.Errorf("failed to archive task: %w", err)
	}

	m.mu.Lock()
	m.queue = append(m.queue, t)
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Schedule",
		"task_id":  t.ID,
		"kind":     t.Kind.String(),
	}).Debug("Task scheduled")

	m.wake()
	return nil
}

// Cancel drops a queued task, or requests cooperative cancellation if the
// task is already running.
func (m *Manager) Cancel(taskID string) error {
	m.mu.Lock()
	for i, t := range m.queue {
		if t.ID == taskID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			m.mu.Unlock()
			return m.archiver.Remove(taskID)
		}
	}
	if m.activeTask != nil && m.activeTask.ID == taskID {
		m.activeTask.Cancel()
		if m.cancelActive != nil {
			m.cancelActive()
		}
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	return ErrTaskNotFound
}

// QueueLen returns the number of tasks waiting to run.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Manager) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Manager) workerLoop() {
	defer m.wg.Done()

	for {
		t := m.nextTask()
		if t == nil {
			return
		}
		m.runTask(t)
	}
}

// nextTask pops the head of the queue, blocking until a task arrives or
// the manager stops.
func (m *Manager) nextTask() *Task {
	for {
		m.mu.Lock()
		if !m.running {
			m.mu.Unlock()
			return nil
		}
		if len(m.queue) > 0 {
			t := m.queue[0]
			m.queue = m.queue[1:]
			m.activeTask = t
			m.mu.Unlock()
			return t
		}
		stopCh := m.stopCh
		m.mu.Unlock()

		select {
		case <-m.notify:
		case <-stopCh:
			return nil
		}
	}
}

// runTask executes one task to a terminal outcome, retrying transient
// failures with backoff. The worker never overtakes a retrying task, so
// enqueue order is preserved.
func (m *Manager) runTask(t *Task) {
	defer func() {
		m.mu.Lock()
		m.activeTask = nil
		m.cancelActive = nil
		m.mu.Unlock()
	}()

	log := logrus.WithFields(logrus.Fields{
		"function": "runTask",
		"task_id":  t.ID,
		"kind":     t.Kind.String(),
	})

	b := m.policy.newBackOff()
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithCancel(context.Background())
		m.mu.Lock()
		m.cancelActive = cancel
		m.mu.Unlock()

		err := m.executor.Execute(ctx, t)
		cancel()

		switch {
		case err == nil:
			m.finish(t)
			return

		case errors.Is(err, ErrCancelled):
			log.Info("Task cancelled")
			m.finish(t)
			return

		case errors.Is(err, context.Canceled) && !t.Cancelled():
			// Shutdown interrupted the attempt. The task is still
			// archived; put it back so an in-process restart picks it
			// up first.
			log.Info("Task interrupted by shutdown, kept archived")
			m.mu.Lock()
			m.queue = append([]*Task{t}, m.queue...)
			m.mu.Unlock()
			return

		case IsTransient(err) && attempt < m.policy.MaxAttempts:
			t.RetryCount = attempt
			delay := b.NextBackOff()
			log.WithError(err).WithFields(logrus.Fields{
				"attempt": attempt,
				"delay":   delay.String(),
			}).Warn("Transient task failure, retrying")

			select {
			case <-time.After(delay):
			case <-m.stopCh:
				// Still archived; put it back so an in-process
				// restart picks it up first.
				m.mu.Lock()
				m.queue = append([]*Task{t}, m.queue...)
				m.mu.Unlock()
				return
			}

		default:
			log.WithError(err).WithField("attempt", attempt).Error("Task failed terminally")
			m.executor.FailPersisted(t, err)
			m.finish(t)
			return
		}
	}
}

func (m *Manager) finish(t *Task) {
	if err := m.archiver.Remove(t.ID); err != nil {
		logrus.WithError(err).Warn("Failed to remove finished task from archive")
	}
}
