// Package ipcsem provides named counting semaphores shared by unrelated
// processes on the same host, without requiring CGO.
//
// A semaphore is identified by an arbitrary string. Any two processes that
// construct a semaphore with the same name converge on the same kernel
// object, which is how they find each other: no sockets, no lock files, no
// coordinator process.
//
//	sem, err := ipcsem.NewSemaphore("db-writers", 2)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer sem.Close()
//
//	sem.Wait()
//	// at most two processes are in here at once
//	sem.Post()
//
// # Name Resolution
//
// The human-chosen name never reaches the kernel directly. It is reduced to
// an ASCII-alphanumeric fragment, hashed together with a library-private
// salt, and the two combined into a stable identifier. The salt keeps this
// library's semaphores from colliding with unrelated software that happens
// to use the same names, while identical names used through this library
// always meet, by design.
//
// On Linux the identifier is a token file under the system temp directory
// (one zero-byte file per semaphore name, never cleaned up automatically);
// the file exists only so that a stable System V IPC key can be derived from
// its inode, and its contents are never touched. On Windows the identifier
// is the kernel object name itself.
//
// # Creation Races
//
// Windows creates and initializes a named semaphore in one atomic call. The
// System V family used on Linux does not: allocating a set and setting its
// count are separate syscalls, and any number of processes may race through
// them for the same key. NewSemaphore resolves the race by attempting an
// exclusive create; the single winner initializes the set, and every loser
// joins it and waits - with a bounded readiness check, not an unbounded
// spin - for the winner's initialization to land. A creator that fails
// midway removes the set it allocated rather than stranding the joiners,
// and a joiner whose creator crashed gets ErrInitTimeout instead of a hang.
//
// # Operation Semantics
//
// Wait blocks until the count is positive and decrements it; TryWait is the
// non-blocking variant; Post increments and wakes at most one waiter. All
// three are safe to call from any number of goroutines on a shared handle.
// Construction is fallible; the operations themselves are not - once a
// handle exists they only fail for host-level defects (resource exhaustion,
// a destroyed set), which panic rather than return an error the caller
// could do nothing useful with.
//
// On Linux every decrement is registered with SEM_UNDO, so the kernel
// reverses slots held by a process that terminates abnormally. That feature
// is why the System V family was chosen over POSIX named semaphores, which
// leave the count wedged when a holder dies.
//
// # Lifecycle
//
// On Linux the kernel set deliberately outlives the handles to it: Close is
// a no-op and the set persists until a reboot or an explicit Destroy. On
// Windows the object is reference-counted and disappears with its last
// handle. Semaphores do not survive reboots and are not reachable across
// machines.
//
// # Platform Support
//
//   - Linux (amd64, arm64): System V semaphore sets
//   - Windows (amd64): named kernel semaphore objects
//
// Other platforms return ErrNotSupported from NewSemaphore.
package ipcsem
