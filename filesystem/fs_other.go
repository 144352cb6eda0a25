//go:build !linux && !darwin && !windows

package filesystem

import (
	"fmt"
	"runtime"

	"github.com/pkg/sftp"
)

func statFS(string) (*sftp.StatVFS, error) {
	return nil, fmt.Errorf("%w: unsupported OS %s", ErrStatFSUnsupported, runtime.GOOS)
}
