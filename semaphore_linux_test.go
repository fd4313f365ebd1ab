//go:build linux && (amd64 || arm64)

package ipcsem

import (
	"fmt"
	"os"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// The kernel writes its full semid64_ds through the IPC_STAT pointer, and
// the two supported ABIs lay out the fields after sem_otime differently.
// The Go struct must therefore put Otime at the offset both ABIs share and
// be at least as large as the bigger (x86_64) kernel layout.
func TestSemidDSLayout(t *testing.T) {
	var ds semidDS
	assert.Equal(t, uintptr(48), unsafe.Offsetof(ds.Otime))
	assert.GreaterOrEqual(t, unsafe.Sizeof(ds), uintptr(104))
	assert.Equal(t, uintptr(48), unsafe.Sizeof(ipcPerm{}))
}

// uniqueName builds a semaphore name no other test run can collide with.
// Kernel sets outlive processes, so a name reused across runs would leak
// state from an earlier crashed run into this one.
func uniqueName(t *testing.T) string {
	return fmt.Sprintf("%s-%d-%d", t.Name(), os.Getpid(), time.Now().UnixNano())
}

// newTestSem creates a semaphore and schedules removal of the kernel set.
func newTestSem(t *testing.T, name string, count uint) *Semaphore {
	t.Helper()
	sem, err := NewSemaphore(name, count)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := sem.Destroy(); err != nil {
			t.Errorf("destroy failed: %v", err)
		}
	})
	return sem
}

func mustValue(t *testing.T, sem *Semaphore) int {
	t.Helper()
	v, err := sem.Value()
	require.NoError(t, err)
	return v
}

func TestInitialCount(t *testing.T) {
	sem := newTestSem(t, uniqueName(t), 3)
	assert.Equal(t, 3, mustValue(t, sem))
}

func TestWaitPostRoundTrip(t *testing.T) {
	sem := newTestSem(t, uniqueName(t), 2)

	before := mustValue(t, sem)
	sem.Wait()
	sem.Post()
	assert.Equal(t, before, mustValue(t, sem), "wait followed by post must not change the count")
}

func TestTryWaitBoundary(t *testing.T) {
	sem := newTestSem(t, uniqueName(t), 1)

	assert.True(t, sem.TryWait(), "count 1 must be acquirable")
	assert.Equal(t, 0, mustValue(t, sem))

	assert.False(t, sem.TryWait(), "count 0 must not be acquirable")
	assert.Equal(t, 0, mustValue(t, sem), "failed try-wait must not change the count")
}

func TestTryWaitZeroInitialCount(t *testing.T) {
	sem := newTestSem(t, uniqueName(t), 0)

	done := make(chan bool, 1)
	go func() {
		done <- sem.TryWait()
	}()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("TryWait blocked on a zero-count semaphore")
	}
}

func TestWaitThenTryWaitExhausted(t *testing.T) {
	sem := newTestSem(t, uniqueName(t), 1)

	sem.Wait()
	assert.False(t, sem.TryWait(), "count was exhausted by Wait")
}

func TestWaitBlocksUntilPost(t *testing.T) {
	sem := newTestSem(t, uniqueName(t), 0)

	released := make(chan struct{})
	go func() {
		sem.Wait()
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("Wait returned before any Post")
	case <-time.After(50 * time.Millisecond):
	}

	sem.Post()
	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after Post")
	}
}

// Two independently constructed handles on the same name must drive the same
// kernel count.
func TestTwoHandlesShareCount(t *testing.T) {
	name := uniqueName(t)
	s1 := newTestSem(t, name, 3)

	s2, err := NewSemaphore(name, 99) // count ignored, semaphore exists
	require.NoError(t, err)
	defer s2.Close()

	assert.Equal(t, 3, mustValue(t, s2), "joiner must see the creator's count, not its own")

	acquired := 0
	for _, s := range []*Semaphore{s1, s2, s1, s2} {
		if s.TryWait() {
			acquired++
		}
	}
	assert.Equal(t, 3, acquired, "3 acquisitions across both handles, then exhaustion")
}

// All concurrent constructors of the same name must come back with a usable
// handle and the initializer's count, however the creation race falls out.
func TestConcurrentConstruction(t *testing.T) {
	const goroutines = 16
	const count = 5
	name := uniqueName(t)

	var wg sync.WaitGroup
	sems := make([]*Semaphore, goroutines)
	errs := make([]error, goroutines)
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			sems[i], errs[i] = NewSemaphore(name, count)
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < goroutines; i++ {
		require.NoError(t, errs[i], "constructor %d", i)
		assert.Equal(t, count, mustValue(t, sems[i]), "handle %d", i)
	}
	require.NoError(t, sems[0].Destroy())
}

// A set whose creator died between allocating and initializing must surface
// as ErrInitTimeout to joiners, not as a hang.
func TestJoinUninitializedSetTimesOut(t *testing.T) {
	name := uniqueName(t)

	// Allocate the set by hand and skip initialization, simulating a creator
	// that crashed before its first semop.
	key, err := ensureToken(tokenPath(name))
	require.NoError(t, err)
	semid, err := semget(key, 1, unix.IPC_CREAT|unix.IPC_EXCL|0o666)
	require.NoError(t, err)
	t.Cleanup(func() {
		semctl(semid, 0, unix.IPC_RMID, 0)
		os.Remove(tokenPath(name))
	})

	done := make(chan error, 1)
	go func() {
		_, err := NewSemaphore(name, 1)
		done <- err
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrInitTimeout)
	case <-time.After(30 * time.Second):
		t.Fatal("NewSemaphore hung on an uninitialized set")
	}
}

func TestInitialCountTooLarge(t *testing.T) {
	_, err := NewSemaphore(uniqueName(t), semMaxValue+1)
	require.Error(t, err)
}

// Destroy must tolerate the set already being gone and must remove the
// token file.
func TestDestroyIdempotentKernelState(t *testing.T) {
	name := uniqueName(t)
	sem := newTestSem(t, name, 1)

	// Remove the set out from under the handle.
	_, err := semctl(sem.impl.semid, 0, unix.IPC_RMID, 0)
	require.NoError(t, err)

	require.NoError(t, sem.Destroy())
	_, statErr := os.Stat(tokenPath(name))
	assert.True(t, os.IsNotExist(statErr), "token file must be removed by Destroy")
}

func TestEnsureTokenIdempotent(t *testing.T) {
	path := tokenPath(uniqueName(t))
	t.Cleanup(func() { os.Remove(path) })

	k1, err := ensureToken(path)
	require.NoError(t, err)
	k2, err := ensureToken(path)
	require.NoError(t, err)
	assert.Equal(t, k1, k2, "same token file must derive the same key")
	assert.NotZero(t, k1)
}

// Post from one goroutine must hand slots to waiters in another; counting
// through a shared handle must not lose or invent slots.
func TestConcurrentWaitPost(t *testing.T) {
	const slots = 4
	const rounds = 200
	sem := newTestSem(t, uniqueName(t), slots)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				sem.Wait()
				sem.Post()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, slots, mustValue(t, sem), "balanced wait/post pairs must restore the count")
}
