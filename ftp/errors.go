package ftp

import (
	"errors"
	"io"
	"io/fs"
	"net"
	"os"
	"syscall"
)

var (
	// ErrServerClosed is returned by Serve after Close
	ErrServerClosed = errors.New("ftp: server closed")

	errNoDataMode = errors.New("no data connection mode set, use PORT or PASV first")
)

// isIOError reports whether err comes from the file system or the network
// rather than from a bug in a handler.
func isIOError(err error) bool {
	var (
		pathErr    *fs.PathError
		linkErr    *os.LinkError
		opErr      *net.OpError
		syscallErr *os.SyscallError
		errno      syscall.Errno
	)
	switch {
	case errors.As(err, &pathErr), errors.As(err, &linkErr), errors.As(err, &opErr),
		errors.As(err, &syscallErr), errors.As(err, &errno):
		return true
	case errors.Is(err, fs.ErrExist), errors.Is(err, fs.ErrClosed), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrShortWrite), errors.Is(err, os.ErrDeadlineExceeded):
		return true
	}
	return false
}

// isConnReset reports whether a transfer failed because its data connection went away,
// either closed by ABOR or reset by the client.
func isConnReset(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
