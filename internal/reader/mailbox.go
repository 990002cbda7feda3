package reader

import "sync"

// mailbox is an unbounded FIFO of closures applied by a single owner.
// Producers never block, so a fetch finishing after the owner stopped
// cannot leak its goroutine.
type mailbox struct {
	mu       sync.Mutex
	tasks    []func()
	closed   bool
	signal   chan struct{}
	inflight sync.WaitGroup
}

func newMailbox() *mailbox {
	return &mailbox{
		tasks:  make([]func(), 0, 32),
		signal: make(chan struct{}, 1),
	}
}

// post queues task for the owner. Safe from any goroutine. Returns false once
// the mailbox is closed.
func (box *mailbox) post(task func()) bool {
	box.mu.Lock()
	defer box.mu.Unlock()

	if box.closed {
		return false
	}
	box.tasks = append(box.tasks, task)

	select {
	case box.signal <- struct{}{}:
	default:
	}
	return true
}

// spawn runs work on its own goroutine and posts the closure it returns.
// Must be called by the owner.
func (box *mailbox) spawn(work func() func()) {
	box.inflight.Add(1)
	go func() {
		defer box.inflight.Done()
		if apply := work(); apply != nil {
			box.post(apply)
		}
	}()
}

// drain applies every queued task on the calling goroutine, which must be
// the owner, and reports how many ran.
func (box *mailbox) drain() int {
	box.mu.Lock()
	tasks := box.tasks
	box.tasks = make([]func(), 0, 32)
	box.mu.Unlock()

	for _, task := range tasks {
		task()
	}
	return len(tasks)
}

func (box *mailbox) ready() <-chan struct{} {
	return box.signal
}

func (box *mailbox) close() {
	box.mu.Lock()
	defer box.mu.Unlock()
	box.closed = true
	box.tasks = nil
}

// settle drains until no spawned work is outstanding. Only valid when no Run
// loop owns the mailbox.
func (box *mailbox) settle() {
	for {
		box.inflight.Wait()
		if box.drain() == 0 {
			return
		}
	}
}
