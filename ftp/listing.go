package ftp

import (
	"bytes"
	"fmt"
	"io/fs"
	"net"
	"strings"
)

const (
	listTimeFormat = "Jan 02 2006"
	mlsdTimeFormat = "20060102150405"
)

// ListCommand sends a long listing of a directory
func (s *Session) ListCommand(arg string) error {
	return s.sendListing(LIST, arg, formatList)
}

// NameListCommand sends the bare names in a directory
func (s *Session) NameListCommand(arg string) error {
	return s.sendListing(NLST, arg, formatNameList)
}

// MachineListCommand sends the entries of a directory with the facts negotiated with OPTS MLST
func (s *Session) MachineListCommand(arg string) error {
	facts, _ := s.registry.Option("MLST")
	return s.sendListing(MLSD, arg, func(entries []fs.FileInfo) []byte {
		return formatMachineList(entries, parseFacts(facts))
	})
}

func (s *Session) sendListing(verb, arg string, format func([]fs.FileInfo) []byte) error {
	p, err := s.fs.Resolve(s.workingDir, stripListFlags(arg))
	if err != nil {
		return err
	}
	if err = s.fs.CheckDir(p); err != nil {
		s.logger.Debug("listing failed", "command", verb, "path", p, "error", err)
		s.reply(StatusFileUnavailable, "Not a directory")
		return nil
	}
	connect, err := s.data.connector()
	if err != nil {
		s.reply(StatusBadSequenceOfCommands, "Use PORT or PASV first")
		return nil
	}
	entries, err := s.fs.Dir(p)
	if err != nil {
		return err
	}
	payload := format(entries)

	s.reply(StatusFileStatusOK, "Here comes the directory listing")
	s.data.start(transfer{
		verb:    verb,
		path:    p,
		okText:  "Directory send OK",
		connect: connect,
		copy: func(conn net.Conn) (int64, error) {
			return s.data.copyData(conn, bytes.NewReader(payload))
		},
	})
	return nil
}

// stripListFlags drops leading "-la" style options some clients send with LIST
func stripListFlags(arg string) string {
	fields := strings.Fields(arg)
	for len(fields) > 0 && strings.HasPrefix(fields[0], "-") {
		fields = fields[1:]
	}
	return strings.Join(fields, " ")
}

func formatList(entries []fs.FileInfo) []byte {
	var b bytes.Buffer
	for _, info := range entries {
		flag, links := "-", 1
		if info.IsDir() {
			flag, links = "d", 3
		}
		fmt.Fprintf(&b, "%s%s %3d %-9s %-9s %9d %s %s\r\n",
			flag, info.Mode().Perm().String()[1:], links, "ftp", "ftp",
			info.Size(), info.ModTime().Format(listTimeFormat), info.Name())
	}
	return b.Bytes()
}

func formatNameList(entries []fs.FileInfo) []byte {
	var b bytes.Buffer
	for _, info := range entries {
		b.WriteString(info.Name())
		b.WriteString("\r\n")
	}
	return b.Bytes()
}

// parseFacts splits the MLST option into lowercase fact names
func parseFacts(option string) []string {
	var facts []string
	for _, fact := range strings.Split(option, ";") {
		if fact = strings.ToLower(strings.TrimSpace(fact)); fact != "" {
			facts = append(facts, fact)
		}
	}
	return facts
}

// formatMachineList writes "fact=value;...; name" per entry, unknown facts are skipped
func formatMachineList(entries []fs.FileInfo, facts []string) []byte {
	var b bytes.Buffer
	for _, info := range entries {
		for _, fact := range facts {
			value, ok := factValue(info, fact)
			if !ok {
				continue
			}
			b.WriteString(fact)
			b.WriteByte('=')
			b.WriteString(value)
			b.WriteByte(';')
		}
		b.WriteByte(' ')
		b.WriteString(info.Name())
		b.WriteString("\r\n")
	}
	return b.Bytes()
}

func factValue(info fs.FileInfo, fact string) (string, bool) {
	switch fact {
	case "modify":
		return info.ModTime().UTC().Format(mlsdTimeFormat), true
	case "size":
		return fmt.Sprintf("%d", info.Size()), true
	case "type":
		if info.IsDir() {
			return "dir", true
		}
		return "file", true
	case "perm":
		return permFact(info), true
	}
	return "", false
}

// permFact maps the owner bits to the RFC 3659 perm letters
func permFact(info fs.FileInfo) string {
	mode := info.Mode().Perm()
	readable, writable := mode&0o400 != 0, mode&0o200 != 0
	var perm string
	if info.IsDir() {
		if readable {
			perm += "el"
		}
		if writable {
			perm += "fpcm"
		}
		return perm
	}
	if readable {
		perm += "r"
	}
	if writable {
		perm += "fadw"
	}
	return perm
}
