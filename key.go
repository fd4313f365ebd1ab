package ipcsem

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
)

// namespaceSalt is mixed into every name hash so that this library's
// semaphores never collide with unrelated software deriving keys from the
// same temp directory. It must stay identical across every build that needs
// to interoperate; changing it is a breaking compatibility change.
const namespaceSalt = "ipcsem"

// keyDirName is the directory under the system temp dir that holds one
// zero-content token file per semaphore name ever created on this host.
// Token files are never cleaned up automatically.
const keyDirName = "ipcsem-keys"

// sanitizeName reduces a semaphore name to its ASCII alphanumeric characters
// to build a filesystem- and object-name-safe fragment. Everything else is
// dropped, not escaped, so the result may be empty; uniqueness comes from the
// hash suffix, not from the fragment.
func sanitizeName(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
			out = append(out, c)
		}
	}
	return string(out)
}

// nameHash hashes the (name, namespaceSalt) pair with FNV-1a. FNV is stable
// across builds and platforms, which is what lets two unrelated processes
// converge on the same kernel object from the same human-chosen name.
func nameHash(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	h.Write([]byte(namespaceSalt))
	return h.Sum64()
}

// tokenPath derives the rendezvous token path for a semaphore name. The path
// identifies the semaphore on this host; the file behind it exists only so a
// stable kernel key can be derived from it and its contents are never read
// or written. Derivation itself is pure and cannot fail; touching the
// filesystem is the caller's problem.
func tokenPath(name string) string {
	return filepath.Join(os.TempDir(), keyDirName,
		fmt.Sprintf("%s-%d", sanitizeName(name), nameHash(name)))
}
