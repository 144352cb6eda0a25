package ftp

import (
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// registerDefaults installs the built-in commands, features and options
func registerDefaults(r *Registry) {
	// access control
	r.Register(USER, RawArg((*Session).UserCommand), "USER <username>: send the user name", false)
	r.Register(PASS, RawArg((*Session).PassCommand), "PASS <password>: send the password", false)
	r.Register(ACCT, NoArgs((*Session).AccountCommand), "ACCT <account>: send account information", false)
	r.Register(CWD, RawArg((*Session).ChangeDirectoryCommand), "CWD <path>: change the working directory", true)
	r.Register(CDUP, NoArgs((*Session).ChangeDirectoryToParentCommand), "CDUP: change to the parent directory", true)
	r.Register(SMNT, NoArgs((*Session).StructureMountCommand), "SMNT <path>: mount a file structure", true)
	r.Register(REIN, NoArgs((*Session).ReinitializeCommand), "REIN: reinitialize the session", true)
	r.Register(QUIT, NoArgs((*Session).CloseCommand), "QUIT: close the session", false)

	// transfer parameters
	r.Register(PORT, RawArg((*Session).ActiveModeCommand), "PORT <h1,h2,h3,h4,p1,p2>: open the data connection to the client", true)
	r.Register(PASV, NoArgs((*Session).PassiveModeCommand), "PASV: listen for the data connection", true)
	r.Register(EPSV, NoArgs((*Session).ExtendedPassiveModeCommand), "EPSV: listen for the data connection, port only", true)
	r.Register(TYPE, RawArg((*Session).TypeCommand), "TYPE <I|L 8>: set the representation type", true)
	r.Register(STRU, RawArg((*Session).StruCommand), "STRU <F>: set the file structure", true)
	r.Register(MODE, RawArg((*Session).ModeCommand), "MODE <S>: set the transfer mode", true)

	// service commands
	r.Register(RETR, RawArg((*Session).RetrieveCommand), "RETR <path>: download a file", true)
	r.Register(STOR, RawArg((*Session).StoreCommand), "STOR <path>: upload a file", true)
	r.Register(STOU, RawArg((*Session).StoreUniqueCommand), "STOU [path]: upload a file under a unique name", true)
	r.Register(APPE, RawArg((*Session).AppendCommand), "APPE <path>: append to a file", true)
	r.Register(REST, RawArg((*Session).RestartCommand), "REST <offset>: restart the next transfer at offset", true)
	r.Register(RNFR, RawArg((*Session).RenameFromCommand), "RNFR <path>: name of the file to rename", true)
	r.Register(RNTO, RawArg((*Session).RenameToCommand), "RNTO <path>: new name of the file", true)
	r.Register(ABOR, NoArgs((*Session).AbortCommand), "ABOR: abort the transfers in flight", true)
	r.Register(DELE, RawArg((*Session).RemoveCommand), "DELE <path>: delete a file", true)
	r.Register(RMD, RawArg((*Session).RemoveDirectoryCommand), "RMD <path>: remove an empty directory", true)
	r.Register(MKD, RawArg((*Session).MakeDirectoryCommand), "MKD <path>: create a directory", true)
	r.Register(PWD, NoArgs((*Session).PrintWorkingDirectoryCommand), "PWD: print the working directory", true)
	r.Register(LIST, RawArg((*Session).ListCommand), "LIST [path]: list a directory", true)
	r.Register(NLST, RawArg((*Session).NameListCommand), "NLST [path]: list the names in a directory", true)
	r.Register(MLSD, RawArg((*Session).MachineListCommand), "MLSD [path]: list a directory with facts", true)
	r.Register(SIZE, RawArg((*Session).SizeCommand), "SIZE <path>: size of a file", true)
	r.Register(MDTM, RawArg((*Session).ModifyTimeCommand), "MDTM <path>: modification time of a file", true)
	r.Register(SYST, NoArgs((*Session).SystemCommand), "SYST: system type", true)
	r.Register(STAT, NoArgs((*Session).StatusCommand), "STAT: server status", true)
	r.Register(HELP, MultiArgs((*Session).HelpCommand), "HELP [command]: list the commands or describe one", false)
	r.Register(NOOP, NoArgs((*Session).NoopCommand), "NOOP: do nothing", false)
	r.Register(FEAT, NoArgs((*Session).FeaturesCommand), "FEAT: list the extensions", false)
	r.Register(OPTS, MultiArgs((*Session).OptsCommand), "OPTS <option> [value]: query or set an option", true)

	r.RegisterFeature("UTF-8")
	r.RegisterFeature("base")
	r.RegisterFeature("MLST Type*;Size*;Modify*;Perm*;")
	r.RegisterFeature("TYPE I;L")

	r.RegisterOption("UTF-8", "ON")
	r.RegisterOption("MLST", "Type;Size;Modify;Perm;")
}

// UserCommand records the user name; a policy without passwords logs in right away
func (s *Session) UserCommand(arg string) error {
	if arg == "" && s.auth.NeedUsername() {
		s.reply(StatusSyntaxErrorInParameters, "Username required")
		return nil
	}
	s.username = arg
	s.userSent = true
	if s.isAuthenticated || !s.auth.NeedPassword(arg) {
		s.isAuthenticated = true
		s.reply(StatusUserLoggedIn, "User logged in, proceed")
		return nil
	}
	s.reply(StatusUserNameOK, "User name okay, need password")
	return nil
}

// PassCommand checks the password of the user sent with USER.
// A failed login closes the session.
func (s *Session) PassCommand(arg string) error {
	if !s.userSent {
		s.reply(StatusBadSequenceOfCommands, "Login with USER first")
		return nil
	}
	if s.isAuthenticated || !s.auth.NeedPassword(s.username) ||
		s.auth.Authenticate(s.username, arg, remoteIP(s.conn.RemoteAddr())) {
		s.isAuthenticated = true
		s.logger.Info("user logged in", "username", s.username)
		s.reply(StatusUserLoggedIn, "User logged in, proceed")
		return nil
	}
	s.logger.Warn("login failed", "username", s.username)
	s.reply(StatusNotLoggedIn, "Login incorrect")
	s.shouldStop = true
	return nil
}

func (s *Session) AccountCommand() error {
	if s.isAuthenticated {
		s.reply(StatusUserLoggedIn, "Already logged in")
		return nil
	}
	s.reply(StatusCommandNotImplemented, "ACCT not implemented")
	return nil
}

func (s *Session) StructureMountCommand() error {
	s.reply(StatusCommandNotImplemented, "SMNT not implemented")
	return nil
}

// ReinitializeCommand logs the user out and forgets the data connection settings
func (s *Session) ReinitializeCommand() error {
	s.isAuthenticated = false
	s.userSent = false
	s.username = ""
	s.renamingFile = ""
	s.data.reset()
	s.reply(StatusServiceReadyForNewUser, "Service ready for new user")
	return nil
}

func (s *Session) CloseCommand() error {
	s.reply(StatusServiceReadyForNewUser, "Goodbye")
	s.shouldStop = true
	return nil
}

func (s *Session) SystemCommand() error {
	s.reply(StatusNameSystemType, "UNIX Type: L8")
	return nil
}

func (s *Session) NoopCommand() error {
	s.reply(StatusCommandOK, "OK")
	return nil
}

// FeaturesCommand lists the features, each line starts with a space
func (s *Session) FeaturesCommand() error {
	s.replyLines(StatusSystemStatus, "Features list:", s.registry.Features(), "END")
	return nil
}

// HelpCommand lists the verbs, or describes the one given
func (s *Session) HelpCommand(args []string) error {
	if len(args) == 0 {
		s.reply(StatusSystemStatus, strings.Join(s.registry.Verbs(), " "))
		return nil
	}
	cmd, ok := s.registry.Lookup(args[0])
	if !ok {
		s.reply(StatusSyntaxErrorInParameters, "Unknown command "+strings.ToUpper(args[0]))
		return nil
	}
	s.reply(StatusHelpMessage, cmd.Help)
	return nil
}

// OptsCommand queries an option with one argument and sets it with more
func (s *Session) OptsCommand(args []string) error {
	if len(args) == 0 {
		s.reply(StatusSyntaxErrorInParameters, "Option name required")
		return nil
	}
	if len(args) == 1 {
		value, ok := s.registry.Option(args[0])
		if !ok {
			s.reply(StatusSyntaxErrorInParameters, "Unknown option")
			return nil
		}
		s.reply(StatusCommandOK, value)
		return nil
	}
	value := strings.ToUpper(strings.Join(args[1:], " "))
	if !s.registry.SetOption(args[0], value) {
		s.reply(StatusSyntaxErrorInParameters, "Unknown option")
		return nil
	}
	s.reply(StatusCommandOK, "Option updated")
	return nil
}

// StatusCommand describes the session
func (s *Session) StatusCommand() error {
	lines := []string{
		"Version: " + Version,
		"Connected from " + remoteIP(s.conn.RemoteAddr()),
	}
	if s.username != "" {
		lines = append(lines, "Logged in as "+s.username)
	} else {
		lines = append(lines, "Logged in anonymously")
	}
	lines = append(lines, "TYPE: "+typeName(s.transferType)+"; STRUcture: File; transfer MODE: Stream")
	if n := s.data.Transferred(); n > 0 {
		lines = append(lines, fmt.Sprintf("Transfer in progress: %d bytes", n))
	}
	if st, err := s.fs.StatFS(); err == nil {
		lines = append(lines, fmt.Sprintf("Disk free: %d of %d bytes", st.FreeSpace(), st.TotalSpace()))
	}
	s.replyLines(StatusSystemStatus, "FTP server status:", lines, "End of status")
	return nil
}

func typeName(t string) string {
	if t == "L" {
		return "Local"
	}
	return "Binary"
}

// PrintWorkingDirectoryCommand replies the working directory relative to the root, quotes doubled.
// The root itself is "".
func (s *Session) PrintWorkingDirectoryCommand() error {
	s.reply(StatusPathnameCreated, quotePath(strings.TrimPrefix(s.workingDir, "/"))+" CWD Name")
	return nil
}

// ChangeDirectoryCommand changes the working directory
func (s *Session) ChangeDirectoryCommand(arg string) error {
	p, err := s.fs.Resolve(s.workingDir, arg)
	if err != nil {
		return err
	}
	if err = s.fs.CheckDir(p); err != nil {
		s.logger.Debug("CWD failed", "path", p, "error", err)
		s.reply(StatusFileUnavailable, "Not a directory")
		return nil
	}
	s.workingDir = p
	s.reply(StatusFileActionOK, "Directory changed successfully")
	return nil
}

// ChangeDirectoryToParentCommand moves one level up, never above the root
func (s *Session) ChangeDirectoryToParentCommand() error {
	parent, err := s.fs.Parent(s.workingDir)
	if err != nil {
		return err
	}
	s.workingDir = parent
	s.reply(StatusCommandOK, "Directory changed successfully")
	return nil
}

func (s *Session) TypeCommand(arg string) error {
	switch strings.ToUpper(strings.Join(strings.Fields(arg), " ")) {
	case "I":
		s.transferType = "I"
	case "L", "L 8":
		s.transferType = "L"
	default:
		s.reply(StatusSyntaxError, "Unsupported type")
		return nil
	}
	s.reply(StatusCommandOK, "Type set to "+s.transferType)
	return nil
}

func (s *Session) ModeCommand(arg string) error {
	if strings.ToUpper(strings.TrimSpace(arg)) != "S" {
		s.reply(StatusCommandNotImplementedForParam, "Only stream mode is supported")
		return nil
	}
	s.reply(StatusCommandOK, "Mode set to S")
	return nil
}

func (s *Session) StruCommand(arg string) error {
	if strings.ToUpper(strings.TrimSpace(arg)) != "F" {
		s.reply(StatusCommandNotImplementedForParam, "Only file structure is supported")
		return nil
	}
	s.reply(StatusCommandOK, "Structure set to F")
	return nil
}

// MakeDirectoryCommand creates the directory and any missing parents
func (s *Session) MakeDirectoryCommand(arg string) error {
	p, err := s.fs.Resolve(s.workingDir, arg)
	if err != nil {
		return err
	}
	if err = s.fs.MakeDir(p); err != nil {
		return err
	}
	s.reply(StatusPathnameCreated, quotePath(arg)+" created")
	return nil
}

// RemoveCommand deletes a file, directories are refused
func (s *Session) RemoveCommand(arg string) error {
	p, err := s.fs.Resolve(s.workingDir, arg)
	if err != nil {
		return err
	}
	info, err := s.fs.Stat(p)
	if err != nil {
		return err
	}
	if info.IsDir() {
		s.reply(StatusPageTypeUnknown, "Is a directory, use RMD")
		return nil
	}
	if err = s.fs.Remove(p); err != nil {
		return err
	}
	s.reply(StatusFileActionOK, "File deleted")
	return nil
}

// RemoveDirectoryCommand removes an empty directory
func (s *Session) RemoveDirectoryCommand(arg string) error {
	p, err := s.fs.Resolve(s.workingDir, arg)
	if err != nil {
		return err
	}
	if err = s.fs.CheckDir(p); err != nil {
		s.logger.Debug("RMD failed", "path", p, "error", err)
		s.reply(StatusFileUnavailable, "Not a directory")
		return nil
	}
	if err = s.fs.RemoveDir(p); err != nil {
		return err
	}
	s.reply(StatusFileActionOK, "Directory removed")
	return nil
}

// RenameFromCommand remembers the file RNTO renames
func (s *Session) RenameFromCommand(arg string) error {
	p, err := s.fs.Resolve(s.workingDir, arg)
	if err != nil {
		return err
	}
	s.renamingFile = p
	s.reply(StatusFileActionPending, "Ready for RNTO")
	return nil
}

// RenameToCommand renames the file given to RNFR, which is forgotten whatever the outcome
func (s *Session) RenameToCommand(arg string) error {
	if s.renamingFile == "" {
		s.reply(StatusBadSequenceOfCommands, "Send RNFR first")
		return nil
	}
	from := s.renamingFile
	s.renamingFile = ""

	to, err := s.fs.Resolve(s.workingDir, arg)
	if err != nil {
		return err
	}
	if err = s.fs.Rename(from, to); err != nil {
		return err
	}
	s.logger.Info("renamed", "from", from, "to", to)
	s.reply(StatusFileActionOK, "File renamed")
	return nil
}

// SizeCommand replies the size of a regular file
func (s *Session) SizeCommand(arg string) error {
	info, err := s.statFile(arg)
	if err != nil {
		return err
	}
	s.reply(StatusFileStatus, fmt.Sprintf("%d", info.Size()))
	return nil
}

// ModifyTimeCommand replies the modification time of a file in UTC
func (s *Session) ModifyTimeCommand(arg string) error {
	info, err := s.statFile(arg)
	if err != nil {
		return err
	}
	s.reply(StatusFileStatus, info.ModTime().UTC().Format(mlsdTimeFormat))
	return nil
}

// statFile resolves arg and stats it, directories are reported as not found
func (s *Session) statFile(arg string) (fs.FileInfo, error) {
	p, err := s.fs.Resolve(s.workingDir, arg)
	if err != nil {
		return nil, err
	}
	info, err := s.fs.Stat(p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s: %w", path.Base(p), fs.ErrNotExist)
	}
	return info, nil
}

// quotePath wraps p in double quotes, doubling the quotes inside it
func quotePath(p string) string {
	return `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
}
