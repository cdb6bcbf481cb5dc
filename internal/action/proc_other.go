//go:build !unix

package action

import "os/exec"

// configureProcess keeps exec's default cancellation, which kills only the
// shell process.
func configureProcess(cmd *exec.Cmd) {}
