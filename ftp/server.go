package ftp

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/telebroad/ftpserver/filesystem"
	"github.com/telebroad/ftpserver/users"
)

const (
	// Version is reported by STAT
	Version = "1.0.0 beta"

	DefaultIdleTimeout    = 5 * time.Minute
	DefaultBufferSize     = 1024
	DefaultWelcomeMessage = "Service ready"

	// MaxCommandLength is the longest control line accepted, terminator included
	MaxCommandLength = 4096
)

type Server struct {
	// Addr is the TCP address to listen on, in the form "host:port"
	Addr string
	// PublicServerIPv4 is advertised in PASV replies instead of the local address when set
	PublicServerIPv4 [4]byte
	// PasvMinPort and PasvMaxPort bound the passive ports, 0 means any free port
	PasvMinPort int
	PasvMaxPort int
	// IdleTimeout closes sessions that send nothing and transfer nothing for that long
	IdleTimeout time.Duration
	// BufferSize is the chunk size used when copying file bytes
	BufferSize int
	// WelcomeMessage is sent with the 220 greeting
	WelcomeMessage string

	fs   filesystem.FS
	auth users.Authenticator

	logger         *slog.Logger
	sessionManager *SessionManager
	extensions     []extension

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	sessions conc.WaitGroup
}

// extension is a command added with Handle
type extension struct {
	verb     string
	handler  HandlerFunc
	help     string
	needAuth bool
}

// NewServer creates a server serving fs to the users accepted by auth.
// A nil auth lets everybody in.
func NewServer(addr string, fs filesystem.FS, auth users.Authenticator) (*Server, error) {
	if fs == nil {
		return nil, errors.New("ftp: a file system is required")
	}
	if auth == nil {
		auth = users.NoAuth{}
	}
	return &Server{
		Addr:           addr,
		IdleTimeout:    DefaultIdleTimeout,
		BufferSize:     DefaultBufferSize,
		WelcomeMessage: DefaultWelcomeMessage,
		fs:             fs,
		auth:           auth,
		logger:         slog.Default().With("module", "ftp"),
		sessionManager: NewSessionManager(),
	}, nil
}

func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// SetPublicServerIPv4 sets the address advertised in PASV replies, an empty string clears it
func (s *Server) SetPublicServerIPv4(ip string) error {
	if ip == "" {
		s.PublicServerIPv4 = [4]byte{}
		return nil
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return fmt.Errorf("error parsing public server ip: %w", err)
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return fmt.Errorf("public server ip %s is not an IPv4 address", ip)
	}
	s.PublicServerIPv4 = addr.As4()
	return nil
}

// Handle registers an extra command on every session accepted from now on.
// It replaces a built-in command with the same verb.
func (s *Server) Handle(verb string, handler HandlerFunc, help string, needAuth bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extensions = append(s.extensions, extension{verb: verb, handler: handler, help: help, needAuth: needAuth})
}

func (s *Server) applyExtensions(r *Registry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.extensions {
		r.Register(e.verb, e.handler, e.help, e.needAuth)
	}
}

// ListenAndServe listens on Addr and serves until Close
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("error starting server: %w", err)
	}
	return s.Serve(listener)
}

// TryListenAndServe starts ListenAndServe in the background and waits d for it to fail.
// A nil error means the server is up.
func (s *Server) TryListenAndServe(d time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-time.After(d):
		return nil
	}
}

// Serve accepts control connections on listener, one session each
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		return ErrServerClosed
	}
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("FTP server listening", "addr", listener.Addr().String())
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			if isTimeout(err) {
				continue
			}
			return fmt.Errorf("error accepting connection: %w", err)
		}

		session := newSession(s, conn)
		// Close flips closed under mu before it waits, so no session starts after Wait
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return ErrServerClosed
		}
		s.sessionManager.Add(session)
		s.sessions.Go(session.serve)
		s.mu.Unlock()
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops accepting connections, closes every session and waits for them to finish.
// cause is only logged.
func (s *Server) Close(cause error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listener := s.listener
	s.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	killed := s.sessionManager.KillAll()
	s.sessions.Wait()
	s.logger.Info("FTP server closed", "cause", cause, "sessions", killed)
	return err
}

// listenHost is the IP the control listener is bound to, unspecified if unknown
func (s *Server) listenHost() net.IP {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.IP
		}
	}
	return net.IPv4zero
}

// listenPassive opens a passive data listener on host, inside the configured port range if any.
// An empty host listens on every address.
func (s *Server) listenPassive(host string) (net.Listener, error) {
	if s.PasvMinPort <= 0 || s.PasvMaxPort <= 0 {
		return net.Listen("tcp", net.JoinHostPort(host, "0"))
	}
	return findAvailablePortInRange(host, s.PasvMinPort, s.PasvMaxPort)
}

// findAvailablePortInRange tries every port in [start, end] once, beginning at a random one
func findAvailablePortInRange(host string, start, end int) (net.Listener, error) {
	size := end - start + 1
	first := rand.IntN(size)
	var err error
	for i := range size {
		port := start + (first+i)%size
		var listener net.Listener
		listener, err = net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return listener, nil
		}
	}
	return nil, fmt.Errorf("no available ports found in range %d-%d: %w", start, end, err)
}
