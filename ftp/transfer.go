package ftp

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"path"
	"strconv"
	"strings"
	"time"
)

const maxUniqueAttempts = 1000

// ActiveModeCommand parses PORT h1,h2,h3,h4,p1,p2. The host must be the address of the control connection.
func (s *Session) ActiveModeCommand(arg string) error {
	parts := strings.Split(strings.TrimSpace(arg), ",")
	if len(parts) != 6 {
		s.reply(StatusSyntaxErrorInParameters, "Invalid PORT command")
		return nil
	}
	var nums [6]byte
	for i, part := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(part), 10, 8)
		if err != nil {
			s.reply(StatusSyntaxErrorInParameters, "Invalid PORT command")
			return nil
		}
		nums[i] = byte(n)
	}
	host := net.IPv4(nums[0], nums[1], nums[2], nums[3])
	port := int(nums[4])<<8 | int(nums[5])

	peer := net.ParseIP(remoteIP(s.conn.RemoteAddr()))
	if peer == nil || !peer.Equal(host) {
		s.logger.Warn("PORT to a foreign host refused", "host", host.String())
		s.reply(StatusSyntaxError, "Illegal PORT command")
		return nil
	}

	s.data.SetActive(net.JoinHostPort(host.String(), strconv.Itoa(port)))
	s.reply(StatusCommandOK, "Active mode enabled")
	return nil
}

// PassiveModeCommand opens a passive listener and advertises it as h1,h2,h3,h4,p1,p2
func (s *Session) PassiveModeCommand() error {
	ip := s.advertisedIP()
	if ip == nil {
		s.reply(StatusSyntaxError, "PASV needs an IPv4 address, use EPSV")
		return nil
	}
	port, err := s.openPassive()
	if err != nil {
		return err
	}
	s.reply(StatusEnteringPassiveMode, fmt.Sprintf("Entering passive mode(%d,%d,%d,%d,%d,%d)",
		ip[0], ip[1], ip[2], ip[3], port>>8, port&0xff))
	return nil
}

// ExtendedPassiveModeCommand opens a passive listener and advertises its port only
func (s *Session) ExtendedPassiveModeCommand() error {
	port, err := s.openPassive()
	if err != nil {
		return err
	}
	s.reply(StatusEnteringExtendedPassiveMode, fmt.Sprintf("Entering Extended Passive Mode (|||%d|)", port))
	return nil
}

func (s *Session) openPassive() (int, error) {
	listener, err := s.ftpServer.listenPassive(s.passiveHost())
	if err != nil {
		return 0, fmt.Errorf("error opening passive listener: %w", err)
	}
	s.data.SetPassive(listener)
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// passiveHost is the local address passive listeners bind to, empty for all of them
func (s *Session) passiveHost() string {
	host := s.ftpServer.listenHost()
	if host.IsUnspecified() {
		return ""
	}
	return host.String()
}

// advertisedIP is the IPv4 address sent in PASV replies, nil when there is none
func (s *Session) advertisedIP() net.IP {
	if s.ftpServer.PublicServerIPv4 != [4]byte{} {
		p := s.ftpServer.PublicServerIPv4
		return net.IPv4(p[0], p[1], p[2], p[3]).To4()
	}
	host := s.ftpServer.listenHost()
	if host.IsUnspecified() {
		if local, ok := s.conn.LocalAddr().(*net.TCPAddr); ok {
			host = local.IP
		}
	}
	return host.To4()
}

// RestartCommand sets the offset of the next RETR or STOR
func (s *Session) RestartCommand(arg string) error {
	offset, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || offset < 0 {
		s.reply(StatusSyntaxErrorInParameters, "Invalid offset")
		return nil
	}
	s.data.SetRestartOffset(offset)
	s.reply(StatusFileActionPending, fmt.Sprintf("Restarting at %d", offset))
	return nil
}

// AbortCommand closes the open data connections; each transfer replies 426 before the 226 sent here
func (s *Session) AbortCommand() error {
	s.data.abort()
	s.reply(StatusClosingDataConnection, "ABOR command successful")
	return nil
}

// RetrieveCommand sends a file from the restart offset
func (s *Session) RetrieveCommand(arg string) error {
	offset := s.data.TakeRestartOffset()
	p, err := s.fs.Resolve(s.workingDir, arg)
	if err != nil {
		return err
	}
	connect, err := s.data.connector()
	if err != nil {
		s.reply(StatusBadSequenceOfCommands, "Use PORT or PASV first")
		return nil
	}
	info, err := s.fs.Stat(p)
	if err != nil {
		return err
	}
	if info.IsDir() {
		s.reply(StatusFileUnavailable, "Not a regular file")
		return nil
	}
	file, err := s.fs.Open(p, offset)
	if err != nil {
		return err
	}

	s.reply(StatusFileStatusOK, "Opening data connection")
	s.data.start(transfer{
		verb:    RETR,
		path:    p,
		file:    file,
		okText:  "Transfer complete",
		connect: connect,
		copy: func(conn net.Conn) (int64, error) {
			return s.data.copyData(conn, file)
		},
	})
	return nil
}

// StoreCommand receives a file, writing from the restart offset
func (s *Session) StoreCommand(arg string) error {
	offset := s.data.TakeRestartOffset()
	p, err := s.fs.Resolve(s.workingDir, arg)
	if err != nil {
		if p, err = s.fs.Resolve(s.workingDir, sanitizeFileName(arg)); err != nil {
			return err
		}
	}
	return s.receive(STOR, p, offset)
}

// AppendCommand receives a file and appends it; a pending REST is dropped
func (s *Session) AppendCommand(arg string) error {
	s.data.TakeRestartOffset()
	p, err := s.fs.Resolve(s.workingDir, arg)
	if err != nil {
		return err
	}
	var offset int64
	if info, err := s.fs.Stat(p); err == nil && !info.IsDir() {
		offset = info.Size()
	}
	return s.receive(APPE, p, offset)
}

func (s *Session) receive(verb, p string, offset int64) error {
	connect, err := s.data.connector()
	if err != nil {
		s.reply(StatusBadSequenceOfCommands, "Use PORT or PASV first")
		return nil
	}
	file, err := s.fs.Create(p, offset)
	if err != nil {
		return err
	}

	s.reply(StatusFileStatusOK, "Ok to send data")
	s.startReceive(verb, p, file, connect)
	return nil
}

func (s *Session) startReceive(verb, p string, file io.WriteCloser, connect func() (net.Conn, error)) {
	s.data.start(transfer{
		verb:    verb,
		path:    p,
		file:    file,
		okText:  "Transfer complete",
		connect: connect,
		copy: func(conn net.Conn) (int64, error) {
			return s.data.copyData(file, conn)
		},
	})
}

// StoreUniqueCommand receives a file under a name that does not exist yet.
// The name given, if any, is used when free; otherwise its directory and extension seed the generated one.
func (s *Session) StoreUniqueCommand(arg string) error {
	s.data.TakeRestartOffset()
	connect, err := s.data.connector()
	if err != nil {
		s.reply(StatusBadSequenceOfCommands, "Use PORT or PASV first")
		return nil
	}

	dir, ext := s.workingDir, ".tmp"
	var (
		p    string
		file io.WriteCloser
	)
	if arg = strings.TrimSpace(arg); arg != "" {
		requested, err := s.fs.Resolve(s.workingDir, arg)
		if err != nil {
			return err
		}
		if f, err := s.fs.CreateUnique(requested); err == nil {
			p, file = requested, f
		} else {
			dir = path.Dir(requested)
			if e := path.Ext(requested); e != "" {
				ext = e
			}
		}
	}
	if file == nil {
		if p, file, err = s.createUnique(dir, ext); err != nil {
			return err
		}
	}

	s.reply(StatusFileStatusOK, "FILE: "+path.Base(p))
	s.startReceive(STOU, p, file, connect)
	return nil
}

// createUnique creates FTP<timestamp><counter><ext> in dir, counting up until a name is free
func (s *Session) createUnique(dir, ext string) (string, io.WriteCloser, error) {
	stamp := time.Now().Format("2006150405")
	for i := 1; i <= maxUniqueAttempts; i++ {
		p := path.Join(dir, "FTP"+stamp+strconv.Itoa(i)+ext)
		file, err := s.fs.CreateUnique(p)
		if err == nil {
			return p, file, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", nil, err
		}
	}
	return "", nil, fmt.Errorf("no unique name available in %s: %w", dir, fs.ErrExist)
}

// sanitizeFileName replaces the characters file systems commonly refuse with "_"
func sanitizeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\\', '/', ':', '<', '>', '|', '*', '?':
			return '_'
		}
		return r
	}, name)
}
