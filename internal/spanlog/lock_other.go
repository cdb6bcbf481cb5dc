//go:build !unix

package spanlog

import "os"

// lockFile is a no-op where flock is unavailable. Single-writer ownership is
// then the operator's responsibility.
func lockFile(f *os.File) error {
	return nil
}
