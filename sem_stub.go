//go:build !windows && !(linux && (amd64 || arm64))

package ipcsem

// Stub backend for platforms without a supported kernel semaphore family.
// Construction fails with ErrNotSupported, so none of the operation methods
// can ever be reached on a live handle.

type semaphore struct{}

func newSemaphore(name string, count uint) (*semaphore, error) {
	return nil, ErrNotSupported
}

func (s *semaphore) wait() {}

func (s *semaphore) tryWait() bool {
	return false
}

func (s *semaphore) post() {}

func (s *semaphore) value() (int, error) {
	return 0, ErrNotSupported
}

func (s *semaphore) close() error {
	return nil
}

func (s *semaphore) destroy() error {
	return ErrNotSupported
}
