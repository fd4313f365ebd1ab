//go:build windows

package ipcsem

// Windows backend. CreateSemaphoreW atomically creates or opens a named
// kernel semaphore, so none of the race resolution the System V backend
// needs applies here - the host already guarantees that the initial count is
// applied exactly once, by whichever process creates the object.

import (
	"fmt"
	"math"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32             = windows.NewLazySystemDLL("kernel32.dll")
	procCreateSemaphoreW = kernel32.NewProc("CreateSemaphoreW")
	procReleaseSemaphore = kernel32.NewProc("ReleaseSemaphore")
)

// objectName builds the kernel object name with the same sanitize+hash
// discipline as the Unix token path, so both backends map a human-chosen
// name to its kernel object identically. The Global prefix shares the
// object across sessions.
func objectName(name string) string {
	return fmt.Sprintf(`Global\%s-%d`, sanitizeName(name), nameHash(name))
}

// semaphore is the Windows implementation behind Semaphore.
type semaphore struct {
	handle windows.Handle
}

func newSemaphore(name string, count uint) (*semaphore, error) {
	if count > math.MaxInt32 {
		return nil, fmt.Errorf("ipcsem: initial count %d exceeds the platform maximum", count)
	}
	namep, err := windows.UTF16PtrFromString(objectName(name))
	if err != nil {
		return nil, err
	}
	// If the object already exists the host ignores count and hands back a
	// handle to the existing semaphore, which is exactly the join semantics
	// the System V backend has to work for.
	h, _, callErr := procCreateSemaphoreW.Call(
		0,
		uintptr(int32(count)),
		uintptr(int32(math.MaxInt32)),
		uintptr(unsafe.Pointer(namep)),
	)
	if h == 0 {
		return nil, os.NewSyscallError("CreateSemaphoreW", callErr)
	}
	return &semaphore{handle: windows.Handle(h)}, nil
}

func (s *semaphore) wait() {
	ev, err := windows.WaitForSingleObject(s.handle, windows.INFINITE)
	if ev != windows.WAIT_OBJECT_0 {
		panic(fmt.Sprintf("ipcsem: wait failed: event %#x: %v", ev, err))
	}
}

func (s *semaphore) tryWait() bool {
	ev, err := windows.WaitForSingleObject(s.handle, 0)
	switch ev {
	case windows.WAIT_OBJECT_0:
		return true
	case uint32(windows.WAIT_TIMEOUT):
		return false
	}
	panic(fmt.Sprintf("ipcsem: try-wait failed: event %#x: %v", ev, err))
}

func (s *semaphore) post() {
	r, _, err := procReleaseSemaphore.Call(uintptr(s.handle), 1, 0)
	if r == 0 {
		panic(fmt.Sprintf("ipcsem: post failed: %v", err))
	}
}

// value is unsupported: the Windows semaphore API has no way to query the
// count without acquiring it.
func (s *semaphore) value() (int, error) {
	return 0, ErrNotSupported
}

func (s *semaphore) close() error {
	return windows.CloseHandle(s.handle)
}

// destroy closes the handle; the kernel frees a named semaphore once its
// last handle is closed, so there is no separate removal call.
func (s *semaphore) destroy() error {
	return s.close()
}
