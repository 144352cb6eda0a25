//go:build windows

package filesystem

import (
	"github.com/pkg/sftp"
	"golang.org/x/sys/windows"
)

func statFS(path string) (*sftp.StatVFS, error) {
	var freeBytesAvailable, totalNumberOfBytes, totalNumberOfFreeBytes uint64
	drive, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, err
	}
	err = windows.GetDiskFreeSpaceEx(drive, &freeBytesAvailable, &totalNumberOfBytes, &totalNumberOfFreeBytes)
	if err != nil {
		return nil, err
	}

	// cluster size is not reported by GetDiskFreeSpaceEx
	const bsize = uint64(4096)
	return &sftp.StatVFS{
		Bsize:   bsize,
		Frsize:  bsize,
		Blocks:  totalNumberOfBytes / bsize,
		Bfree:   totalNumberOfFreeBytes / bsize,
		Bavail:  freeBytesAvailable / bsize,
		Namemax: 255,
	}, nil
}
