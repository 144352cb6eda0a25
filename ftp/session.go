package ftp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"github.com/telebroad/ftpserver/filesystem"
	"github.com/telebroad/ftpserver/tools"
	"github.com/telebroad/ftpserver/users"
)

// Session represents an individual client FTP session.
// Everything but the writer, the activity clock and the data connection set
// belongs to the goroutine running serve.
type Session struct {
	id         string
	ftpServer  *Server                 // The server the session belongs to
	conn       net.Conn                // The control connection
	readWriter *tools.BufLogReadWriter // ReadWriter for the connection
	logger     *slog.Logger
	fs         filesystem.FS
	auth       users.Authenticator
	registry   *Registry
	data       *DataChannel

	writeMu sync.Mutex

	isAuthenticated bool   // Authentication status
	userSent        bool   // USER was received
	username        string // Username of the client
	workingDir      string // Current working directory
	renamingFile    string // File to be renamed
	transferType    string
	shouldStop      bool

	idleTimeout  time.Duration
	lastActivity atomic.Int64
	tasks        conc.WaitGroup
	closeOnce    sync.Once
}

func newSession(srv *Server, conn net.Conn) *Session {
	id := uuid.NewString()
	logger := srv.Logger().With("session_id", id, "remote_ip", remoteIP(conn.RemoteAddr()))

	idle := srv.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	s := &Session{
		id:           id,
		ftpServer:    srv,
		conn:         conn,
		readWriter:   tools.NewBufLogReadWriter(conn, logger, MaxCommandLength),
		logger:       logger,
		fs:           srv.fs,
		auth:         srv.auth,
		registry:     NewRegistry(),
		workingDir:   srv.fs.RootDir(),
		transferType: "I",
		idleTimeout:  idle,
	}
	s.data = newDataChannel(s)
	registerDefaults(s.registry)
	s.data.registerFeatures(s.registry)
	srv.applyExtensions(s.registry)
	s.touch()
	return s
}

// ID returns the unique id of the session
func (s *Session) ID() string { return s.id }

// Logger returns the session logger
func (s *Session) Logger() *slog.Logger { return s.logger }

// WorkingDir returns the current virtual working directory
func (s *Session) WorkingDir() string { return s.workingDir }

// IsAuthenticated reports whether the client logged in
func (s *Session) IsAuthenticated() bool { return s.isAuthenticated }

// Registry returns the commands, features and options of the session
func (s *Session) Registry() *Registry { return s.registry }

// Reply sends a response on the control connection, it is safe to call from any goroutine
func (s *Session) Reply(code StatusCode, text string) {
	s.reply(code, text)
}

func (s *Session) serve() {
	defer s.close()
	s.logger.Info("session opened")
	s.reply(StatusServiceReadyForNewUser, s.ftpServer.WelcomeMessage)

	var pending []byte
	for !s.shouldStop {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		chunk, err := s.readWriter.ReadSlice('\n')
		pending = append(pending, chunk...)
		if len(pending) > MaxCommandLength || errors.Is(err, bufio.ErrBufferFull) {
			s.reply(StatusSyntaxError, "Command line too long")
			return
		}
		if err != nil {
			if isTimeout(err) {
				if s.idle() {
					s.logger.Info("closing idle session", "idle_timeout", s.idleTimeout)
					return
				}
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("error reading from connection", "error", err)
			}
			return
		}

		s.readWriter.LogRequest(pending)
		line := strings.TrimRight(string(pending), "\r\n")
		pending = pending[:0]
		if strings.TrimSpace(line) == "" {
			continue
		}
		s.touch()
		s.handleLine(line)
	}
}

// handleLine dispatches one command line
func (s *Session) handleLine(line string) {
	verb, arg, _ := strings.Cut(line, " ")
	verb = strings.ToUpper(verb)

	cmd, ok := s.registry.Lookup(verb)
	if !ok {
		s.reply(StatusCommandNotImplemented, "Unknown command")
		return
	}
	if cmd.NeedAuth && !s.isAuthenticated {
		s.reply(StatusNotLoggedIn, "Please login with USER and PASS")
		return
	}

	var err error
	if r := panics.Try(func() { err = cmd.Handler(s, arg) }); r != nil {
		s.logger.Error("command panicked", "command", verb, "panic", r.String())
		s.reply(StatusLocalProcessingError, StatusText(StatusLocalProcessingError))
		return
	}
	if err != nil {
		s.replyError(verb, err)
	}
}

// replyError turns a handler error into a response
func (s *Session) replyError(verb string, err error) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Debug("command failed", "command", verb, "error", err)
		s.reply(StatusFileUnavailable, "File not found")
	case errors.Is(err, fs.ErrPermission):
		s.logger.Debug("command failed", "command", verb, "error", err)
		s.reply(StatusFileUnavailable, "Permission denied")
	case isIOError(err):
		s.logger.Debug("command failed", "command", verb, "error", err)
		s.reply(StatusRequestedFileActionNotTaken, StatusText(StatusRequestedFileActionNotTaken))
	default:
		s.logger.Error("command failed", "command", verb, "error", err)
		s.reply(StatusLocalProcessingError, StatusText(StatusLocalProcessingError))
	}
}

// reply writes "<code> <text>\r\n", or "<code><text>\r\n" when text starts a multi-line block with "-"
func (s *Session) reply(code StatusCode, text string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.writeReply(code, text)
}

// replyLines writes a multi-line reply: header, one line per entry and the closing footer
func (s *Session) replyLines(code StatusCode, header string, lines []string, footer string) {
	var b strings.Builder
	b.WriteString("-")
	b.WriteString(header)
	for _, line := range lines {
		b.WriteString("\r\n ")
		b.WriteString(line)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.writeReply(code, b.String())
	s.writeReply(code, footer)
}

func (s *Session) writeReply(code StatusCode, text string) {
	if text == "" {
		text = StatusText(code)
	}
	format := "%d %s\r\n"
	if strings.HasPrefix(text, "-") {
		format = "%d%s\r\n"
	}
	if _, err := fmt.Fprintf(s.readWriter, format, code, text); err != nil {
		s.logger.Debug("error writing response", "code", code, "error", err)
	}
}

// touch refreshes the idle clock
func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// idle reports whether the session went quiet for longer than the idle timeout with no transfer open
func (s *Session) idle() bool {
	last := time.Unix(0, s.lastActivity.Load())
	return s.data.conns.Len() == 0 && time.Since(last) >= s.idleTimeout
}

// kill closes the sockets; serve notices and finishes the teardown
func (s *Session) kill() {
	_ = s.conn.Close()
	s.data.conns.closeAll()
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
		s.data.close()
		s.tasks.Wait()
		s.ftpServer.sessionManager.Remove(s.id)
		s.logger.Info("session closed")
	})
}

func remoteIP(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
