package ipcsem

import "errors"

// ErrInitTimeout is returned by NewSemaphore when another process created the
// underlying kernel semaphore but never finished initializing it (for
// example, it crashed between allocation and the first count update). The
// joiner gives up after a bounded number of readiness checks instead of
// hanging forever.
var ErrInitTimeout = errors.New("ipcsem: timed out waiting for semaphore initialization")

// ErrNotSupported is returned on platforms without a native cross-process
// semaphore backend.
var ErrNotSupported = errors.New("ipcsem: named semaphores are not supported on this platform")

// Semaphore is a counting semaphore identified by a string name and shared
// by unrelated processes on the same host. Two processes that call
// NewSemaphore with the same name obtain handles to the same kernel object.
//
// A handle is safe for concurrent use by multiple goroutines without
// additional locking: every count mutation goes through the host's own
// atomic semaphore primitive, which is the synchronization point.
//
// Example:
//
//	sem, err := ipcsem.NewSemaphore("render-workers", 4)
//	if err != nil {
//		return err
//	}
//	defer sem.Close()
//
//	sem.Wait()
//	// exclusive slot held - do bounded work
//	sem.Post()
type Semaphore struct {
	// impl is the platform-specific semaphore implementation
	impl *semaphore

	// name is the caller-supplied identifier this handle was built from
	name string
}

// NewSemaphore creates the named semaphore with the given initial count, or
// joins it if some other process created it first - in which case count is
// ignored and the existing count is kept. Construction is the only fallible
// part of the lifecycle: filesystem, key-derivation, and kernel allocation
// failures all surface here as OS errors, and a creator that crashed before
// finishing initialization surfaces as ErrInitTimeout.
func NewSemaphore(name string, count uint) (*Semaphore, error) {
	impl, err := newSemaphore(name, count)
	if err != nil {
		return nil, err
	}
	return &Semaphore{impl: impl, name: name}, nil
}

// Name returns the name this handle was constructed with.
func (s *Semaphore) Name() string {
	return s.name
}

// Wait blocks the calling goroutine until the count is positive, then
// atomically decrements it by one. Signal interruptions of the underlying
// blocking call are retried transparently. There is no way to cancel a Wait
// short of process termination; on the System V backend the kernel undoes
// the decrement automatically if the process dies holding it.
//
// Any other host failure panics: once a valid handle exists this operation
// is defined to always eventually succeed, so a failure here is a resource
// exhaustion or corruption defect the caller cannot recover from.
func (s *Semaphore) Wait() {
	s.impl.wait()
}

// TryWait attempts the same decrement without blocking. It returns true if
// the count was positive and has been decremented, false if the count was
// zero (no state change). Unexpected host failures panic, as for Wait.
func (s *Semaphore) TryWait() bool {
	return s.impl.tryWait()
}

// Post atomically increments the count by one, waking at most one blocked
// waiter. Which waiter wakes is up to the host scheduler; no fairness is
// guaranteed. Host failures panic, as for Wait.
func (s *Semaphore) Post() {
	s.impl.post()
}

// Value reports the current count. It exists for diagnostics and tests; by
// the time the caller looks at the result another process may already have
// changed it. Not every backend can query the count - Windows returns
// ErrNotSupported.
func (s *Semaphore) Value() (int, error) {
	return s.impl.value()
}

// Close releases this handle. On the System V backend the kernel set is
// deliberately left alive - it is host-shared state that outlives any single
// process - so Close is a no-op there. On Windows the object handle is
// closed and the kernel frees the semaphore once the last handle goes.
func (s *Semaphore) Close() error {
	return s.impl.close()
}

// Destroy removes the kernel semaphore and its rendezvous token from the
// host. Every other handle to the same name, in this process or any other,
// is invalidated. Intended for tests and administrative cleanup; ordinary
// users should just Close.
func (s *Semaphore) Destroy() error {
	return s.impl.destroy()
}
