package ftp

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"
)

const (
	dataAcceptTimeout = 10 * time.Second
	dataDialTimeout   = 10 * time.Second
	abortWaitTimeout  = 5 * time.Second
)

type dataMode int

const (
	dataModeNone dataMode = iota
	dataModeActive
	dataModePassive
)

// DataChannel holds the data connection settings of a session and the transfers it runs.
type DataChannel struct {
	session *Session

	mu            sync.Mutex
	mode          dataMode
	activeAddr    string
	listener      net.Listener
	restartOffset int64

	transferred atomic.Int64
	conns       *connSet
}

func newDataChannel(s *Session) *DataChannel {
	return &DataChannel{session: s, conns: newConnSet()}
}

func (d *DataChannel) registerFeatures(r *Registry) {
	r.RegisterFeature("REST STREAM")
	r.RegisterFeature("EPSV")
	r.RegisterFeature("SIZE")
	r.RegisterFeature("MDTM")
}

// SetActive switches to active mode, the server will dial addr
func (d *DataChannel) SetActive(addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeListener()
	d.mode = dataModeActive
	d.activeAddr = addr
}

// SetPassive switches to passive mode, the client will connect to listener
func (d *DataChannel) SetPassive(listener net.Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeListener()
	d.mode = dataModePassive
	d.listener = listener
}

// SetRestartOffset sets the offset used by the next transfer
func (d *DataChannel) SetRestartOffset(offset int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.restartOffset = offset
}

// TakeRestartOffset returns the pending restart offset and clears it
func (d *DataChannel) TakeRestartOffset() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	offset := d.restartOffset
	d.restartOffset = 0
	return offset
}

// Transferred is the byte count of the running transfer
func (d *DataChannel) Transferred() int64 {
	return d.transferred.Load()
}

// connector snapshots the current mode into a function opening one data connection
func (d *DataChannel) connector() (func() (net.Conn, error), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.mode {
	case dataModePassive:
		listener := d.listener
		return func() (net.Conn, error) {
			if tl, ok := listener.(*net.TCPListener); ok {
				_ = tl.SetDeadline(time.Now().Add(dataAcceptTimeout))
			}
			return listener.Accept()
		}, nil
	case dataModeActive:
		addr := d.activeAddr
		return func() (net.Conn, error) {
			return net.DialTimeout("tcp", addr, dataDialTimeout)
		}, nil
	}
	return nil, errNoDataMode
}

// reset forgets the mode and the restart offset, used by REIN
func (d *DataChannel) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeListener()
	d.mode = dataModeNone
	d.activeAddr = ""
	d.restartOffset = 0
}

// close releases the listener and drops every open data connection
func (d *DataChannel) close() {
	d.reset()
	d.conns.closeAll()
}

func (d *DataChannel) closeListener() {
	if d.listener != nil {
		_ = d.listener.Close()
		d.listener = nil
	}
}

// abort closes every open data connection and waits for their transfers to reply
func (d *DataChannel) abort() {
	deadline := time.After(abortWaitTimeout)
	for _, done := range d.conns.closeAll() {
		select {
		case <-done:
		case <-deadline:
			return
		}
	}
}

// transfer is one background data transfer
type transfer struct {
	verb    string
	path    string
	file    io.Closer
	okText  string
	connect func() (net.Conn, error)
	copy    func(conn net.Conn) (int64, error)
}

// start runs t on the session task group. The final reply is sent before its data
// connection leaves the open set, so ABOR answers after it.
func (d *DataChannel) start(t transfer) {
	s := d.session
	s.tasks.Go(func() {
		begin := time.Now()
		var (
			n     int64
			err   error
			entry *trackedConn
		)
		recovered := panics.Try(func() {
			n, err = d.run(t, &entry)
		})
		d.transferred.Store(0)
		s.touch()

		logger := s.logger.With("command", t.verb, "path", t.path, "bytes", n, "duration", time.Since(begin))
		switch {
		case recovered != nil:
			logger.Error("transfer panicked", "panic", recovered.String())
			s.reply(StatusServiceNotAvailable, "Transfer failed")
		case err == nil:
			logger.Info("transfer complete")
			s.reply(StatusClosingDataConnection, t.okText)
		case isConnReset(err):
			logger.Info("transfer aborted", "error", err)
			s.reply(StatusConnectionClosedTransferAborted, "Transfer aborted")
		case isIOError(err):
			logger.Warn("transfer failed", "error", err)
			s.reply(StatusRequestedFileActionNotTaken, "Transfer failed")
		default:
			logger.Error("transfer failed", "error", err)
			s.reply(StatusServiceNotAvailable, "Transfer failed")
		}
		if entry != nil {
			d.conns.remove(entry)
		}
	})
}

// run connects, registers the connection in entry and copies
func (d *DataChannel) run(t transfer, entry **trackedConn) (n int64, err error) {
	defer func() {
		if t.file != nil {
			if cerr := t.file.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}()

	conn, err := t.connect()
	if err != nil {
		return 0, err
	}
	*entry = d.conns.add(conn)
	n, err = t.copy(conn)
	if cerr := conn.Close(); cerr != nil && err == nil && !errors.Is(cerr, net.ErrClosed) {
		err = cerr
	}
	return n, err
}

// copyData copies src to dst with the server buffer size, counting bytes as they go
func (d *DataChannel) copyData(dst io.Writer, src io.Reader) (int64, error) {
	size := d.session.ftpServer.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	buf := make([]byte, size)
	// hide ReaderFrom and WriterTo so every chunk goes through the counter
	return io.CopyBuffer(countingWriter{w: dst, n: &d.transferred}, struct{ io.Reader }{src}, buf)
}

type countingWriter struct {
	w io.Writer
	n *atomic.Int64
}

func (c countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n.Add(int64(n))
	return n, err
}

// trackedConn is an open data connection; done closes once its transfer replied
type trackedConn struct {
	conn net.Conn
	done chan struct{}
}

type connSet struct {
	mu    sync.Mutex
	conns map[*trackedConn]struct{}
}

func newConnSet() *connSet {
	return &connSet{conns: make(map[*trackedConn]struct{})}
}

func (c *connSet) add(conn net.Conn) *trackedConn {
	entry := &trackedConn{conn: conn, done: make(chan struct{})}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[entry] = struct{}{}
	return entry
}

func (c *connSet) remove(entry *trackedConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.conns[entry]; !ok {
		return
	}
	delete(c.conns, entry)
	_ = entry.conn.Close()
	close(entry.done)
}

// closeAll closes every connection and returns their done channels
func (c *connSet) closeAll() []chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	done := make([]chan struct{}, 0, len(c.conns))
	for entry := range c.conns {
		_ = entry.conn.Close()
		done = append(done, entry.done)
	}
	return done
}

func (c *connSet) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}
