//go:build linux && (amd64 || arm64)

package ipcsem

// System V semaphore backend.
//
// POSIX named semaphores would be simpler, but they leave the count wedged if
// a process dies while holding a slot. System V semaphores support SEM_UNDO,
// which makes the kernel reverse a process's outstanding decrements when it
// terminates, so that is the backend used here.
//
// The price is an awkward creation protocol: semget allocates a set and a
// separate semctl/semop initializes it, and any number of processes may race
// through those two steps for the same key. newSemaphore resolves the race
// with an exclusive-create attempt; see the comments there.

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

// semctl commands and semop flags that x/sys/unix does not export.
const (
	semGetVal = 12     // GETVAL
	semSetVal = 16     // SETVAL
	semUndo   = 0x1000 // SEM_UNDO
)

// semMaxValue is the semaphore value ceiling (SEMVMX) guaranteed by the
// kernel; initial counts above it cannot be represented.
const semMaxValue = 32767

// initPollAttempts bounds the readiness polling loop in waitInitialized.
// Initialization by the winning creator is a couple of syscalls and normally
// completes in microseconds, so the loop spins without sleeping.
const initPollAttempts = 1000

// ftokProj is the discriminant byte fed to ftok together with the token path.
const ftokProj = 'I'

// sembuf mirrors the kernel's struct sembuf.
type sembuf struct {
	semNum uint16
	semOp  int16
	semFlg int16
}

// ipcPerm mirrors struct ipc64_perm from the asm-generic ABI shared by
// linux/amd64 and linux/arm64.
type ipcPerm struct {
	Key  int32
	UID  uint32
	GID  uint32
	CUID uint32
	CGID uint32
	Mode uint32
	Seq  uint16
	_    uint16
	_    uint32
	_    uint64
	_    uint64
}

// semidDS receives IPC_STAT output. amd64 and arm64 disagree about the
// fields after sem_otime (x86_64 interleaves reserved words, asm-generic on
// arm64 does not), so only Otime is declared - its offset is 48 on both -
// and the tail is an opaque reserved area sized for the larger (x86_64)
// layout, since the kernel writes its full struct through the pointer.
// Otime is all that matters here anyway: it is set by the first semop on
// the set and doubles as the "someone finished initializing this set"
// marker.
type semidDS struct {
	Perm  ipcPerm
	Otime int64
	_     [6]uint64
}

func semget(key, nsems, flag int) (int, error) {
	id, _, errno := unix.Syscall(unix.SYS_SEMGET, uintptr(key), uintptr(nsems), uintptr(flag))
	if errno != 0 {
		return 0, os.NewSyscallError("semget", errno)
	}
	return int(id), nil
}

func semop(id int, ops []sembuf) error {
	_, _, errno := unix.Syscall(unix.SYS_SEMOP, uintptr(id), uintptr(unsafe.Pointer(&ops[0])), uintptr(len(ops)))
	if errno != 0 {
		return os.NewSyscallError("semop", errno)
	}
	return nil
}

// semctl issues the raw semctl syscall. On amd64 and arm64 the kernel speaks
// the 64-bit semid_ds layout for the plain command values, so no IPC_64
// fixup is needed. The returned int is only meaningful for value-returning
// commands such as GETVAL.
func semctl(id, num, cmd int, arg uintptr) (int, error) {
	r, _, errno := unix.Syscall6(unix.SYS_SEMCTL, uintptr(id), uintptr(num), uintptr(cmd), arg, 0, 0)
	if errno != 0 {
		return 0, os.NewSyscallError("semctl", errno)
	}
	return int(r), nil
}

// ftok derives a System V IPC key from an existing file, using the same
// recipe as glibc: low 16 bits of the inode, low 8 bits of the device, and
// the project byte on top. Two processes that stat the same file get the
// same key, which is the whole point of the token file.
func ftok(path string, proj byte) (int, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, os.NewSyscallError("stat", err)
	}
	return int(uint32(st.Ino)&0xffff | (uint32(st.Dev)&0xff)<<16 | uint32(proj)<<24), nil
}

// ensureToken makes sure the rendezvous token file exists and derives the
// kernel key from it. Every step is idempotent under unbounded concurrent
// callers: the directory and the file are created with "ignore if someone
// beat us to it" semantics.
func ensureToken(path string) (int, error) {
	dir := filepath.Dir(path)

	// A racing process may create the directory between our two attempts;
	// only the second failure is treated as real.
	_ = os.MkdirAll(dir, 0o755)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}

	// Exclusive create so an existing token is left untouched. The file's
	// contents are never read or written; it exists purely to have a stable
	// inode for ftok.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o640)
	if err == nil {
		f.Close()
	} else if !errors.Is(err, os.ErrExist) {
		return 0, err
	}

	return ftok(path, ftokProj)
}

// semaphore is the System V implementation behind Semaphore.
type semaphore struct {
	semid int
	token string
}

// newSemaphore creates or joins the semaphore set for name.
//
// Allocation and initialization are separate syscalls, so some process must
// be designated the initializer. The only designation mechanism available
// without an external coordinator is the exclusive-create race itself:
// whoever wins semget(IPC_CREAT|IPC_EXCL) owns initialization, everyone else
// joins the existing set and polls sem_otime until the winner's first semop
// stamps it.
func newSemaphore(name string, count uint) (*semaphore, error) {
	if count > semMaxValue {
		return nil, fmt.Errorf("ipcsem: initial count %d exceeds the kernel maximum %d", count, semMaxValue)
	}

	token := tokenPath(name)
	key, err := ensureToken(token)
	if err != nil {
		return nil, err
	}

	semid, err := semget(key, 1, unix.IPC_CREAT|unix.IPC_EXCL|0o666)
	if err == nil {
		if err := initialize(semid, count); err != nil {
			// Never leave a half-initialized set behind: it would strand
			// every future joiner in the readiness poll.
			semctl(semid, 0, unix.IPC_RMID, 0)
			return nil, err
		}
		return &semaphore{semid: semid, token: token}, nil
	}
	if !errors.Is(err, unix.EEXIST) {
		return nil, err
	}

	// Lost the race. Reopen the existing set; if it vanished in between,
	// report that rather than retrying.
	semid, err = semget(key, 1, 0)
	if err != nil {
		return nil, err
	}
	if err := waitInitialized(semid); err != nil {
		return nil, err
	}
	return &semaphore{semid: semid, token: token}, nil
}

// initialize brings a freshly allocated set to its initial count. The raw
// value of a new set is unspecified, so it is clamped to zero with SETVAL
// first; the count is then applied with semop rather than a second SETVAL,
// because only semop updates sem_otime, the marker joiners poll. A zero
// count degenerates to a wait-for-zero op, which succeeds immediately on the
// just-cleared set and still stamps sem_otime.
func initialize(semid int, count uint) error {
	if _, err := semctl(semid, 0, semSetVal, 0); err != nil {
		return err
	}
	return semop(semid, []sembuf{{semNum: 0, semOp: int16(count)}})
}

// waitInitialized spins until the set's sem_otime becomes nonzero, up to
// initPollAttempts metadata reads. Exhausting the budget means the creator
// died between allocating and initializing; the caller gets ErrInitTimeout
// instead of a hang.
func waitInitialized(semid int) error {
	var ds semidDS
	for i := 0; i < initPollAttempts; i++ {
		if _, err := semctl(semid, 0, unix.IPC_STAT, uintptr(unsafe.Pointer(&ds))); err != nil {
			return err
		}
		if ds.Otime != 0 {
			return nil
		}
	}
	return ErrInitTimeout
}

// modify adjusts the count by amt. Every op carries SEM_UNDO so the kernel
// reverses outstanding decrements if the process terminates abnormally.
func (s *semaphore) modify(amt int16, wait bool) error {
	flg := int16(semUndo)
	if !wait {
		flg |= int16(unix.IPC_NOWAIT)
	}
	return semop(s.semid, []sembuf{{semNum: 0, semOp: amt, semFlg: flg}})
}

func (s *semaphore) wait() {
	for {
		err := s.modify(-1, true)
		if err == nil {
			return
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		panic(fmt.Sprintf("ipcsem: wait failed: %v", err))
	}
}

func (s *semaphore) tryWait() bool {
	err := s.modify(-1, false)
	if err == nil {
		return true
	}
	if errors.Is(err, unix.EAGAIN) {
		return false
	}
	panic(fmt.Sprintf("ipcsem: try-wait failed: %v", err))
}

func (s *semaphore) post() {
	if err := s.modify(1, true); err != nil {
		panic(fmt.Sprintf("ipcsem: post failed: %v", err))
	}
}

func (s *semaphore) value() (int, error) {
	return semctl(s.semid, 0, semGetVal, 0)
}

// close is a no-op: the kernel set is host-shared state and intentionally
// outlives any single handle.
func (s *semaphore) close() error {
	return nil
}

// destroy removes the kernel set and the token file. A set or token already
// removed by someone else counts as success.
func (s *semaphore) destroy() error {
	if _, err := semctl(s.semid, 0, unix.IPC_RMID, 0); err != nil &&
		!errors.Is(err, unix.EINVAL) && !errors.Is(err, unix.EIDRM) {
		return err
	}
	if err := os.Remove(s.token); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
