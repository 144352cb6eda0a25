// Package ftp implements the FTP protocol engine: the control session with its command registry and
// session state, and the data channel manager running transfers in the background.
package ftp

// StatusCode is a type for FTP status codes
type StatusCode = int

const (
	// Positive Preliminary replies (1xx)
	StatusFileStatusOK StatusCode = 150 // File status okay; about to open data connection

	// Positive Completion replies (2xx)
	StatusCommandOK                   StatusCode = 200 // Command okay
	StatusSystemStatus                StatusCode = 211 // System status, or system help reply
	StatusFileStatus                  StatusCode = 213 // File status
	StatusHelpMessage                 StatusCode = 214 // Help message
	StatusNameSystemType              StatusCode = 215 // NAME system type
	StatusServiceReadyForNewUser      StatusCode = 220 // Service ready for new user
	StatusClosingDataConnection       StatusCode = 226 // Closing data connection; requested file action successful
	StatusEnteringPassiveMode         StatusCode = 227 // Entering Passive Mode (h1,h2,h3,h4,p1,p2)
	StatusEnteringExtendedPassiveMode StatusCode = 229 // Entering Extended Passive Mode (|||port|)
	StatusUserLoggedIn                StatusCode = 230 // User logged in, proceed
	StatusUserLoggedOut               StatusCode = 231 // User logged out; service terminated
	StatusFileActionOK                StatusCode = 250 // Requested file action okay, completed
	StatusPathnameCreated             StatusCode = 257 // "PATHNAME" created

	// Positive Intermediate replies (3xx)
	StatusUserNameOK        StatusCode = 331 // User name okay, need password
	StatusFileActionPending StatusCode = 350 // Requested file action pending further information

	// Transient Negative Completion replies (4xx)
	StatusServiceNotAvailable             StatusCode = 421 // Service not available
	StatusConnectionClosedTransferAborted StatusCode = 426 // Connection closed; transfer aborted
	StatusRequestedFileActionNotTaken     StatusCode = 450 // Requested file action not taken
	StatusLocalProcessingError            StatusCode = 451 // Requested action aborted: local error in processing

	// Permanent Negative Completion replies (5xx)
	StatusSyntaxError                   StatusCode = 500 // Syntax error, command unrecognized
	StatusSyntaxErrorInParameters       StatusCode = 501 // Syntax error in parameters or arguments
	StatusCommandNotImplemented         StatusCode = 502 // Command not implemented
	StatusBadSequenceOfCommands         StatusCode = 503 // Bad sequence of commands
	StatusCommandNotImplementedForParam StatusCode = 504 // Command not implemented for that parameter
	StatusNotLoggedIn                   StatusCode = 530 // Not logged in
	StatusFileUnavailable               StatusCode = 550 // Requested action not taken; File unavailable
	StatusPageTypeUnknown               StatusCode = 551 // Requested action aborted: page type unknown
)

var statusText = map[StatusCode]string{
	150: "File status okay; about to open data connection",
	200: "Command okay",
	211: "System status",
	213: "File status",
	214: "Help message",
	215: "UNIX Type: L8",
	220: "Service ready for new user",
	226: "Closing data connection",
	227: "Entering Passive Mode",
	229: "Entering Extended Passive Mode",
	230: "User logged in, proceed",
	231: "User logged out",
	250: "Requested file action okay, completed",
	257: "Pathname created",
	331: "User name okay, need password",
	350: "Requested file action pending further information",
	421: "Service not available",
	426: "Connection closed; transfer aborted",
	450: "Requested file action not taken",
	451: "Requested action aborted: local error in processing",
	500: "Syntax error, command unrecognized",
	501: "Syntax error in parameters or arguments",
	502: "Command not implemented",
	503: "Bad sequence of commands",
	504: "Command not implemented for that parameter",
	530: "Not logged in",
	550: "Requested action not taken; file unavailable",
	551: "Requested action aborted: page type unknown",
}

// StatusText returns a text for the FTP status code. It returns "Unknown" if the code is unknown.
func StatusText(code StatusCode) string {
	if text, ok := statusText[code]; ok {
		return text
	}
	return "Unknown"
}

type Command = string

const (
	// Access control
	USER Command = "USER" // Send username
	PASS Command = "PASS" // Send password
	ACCT Command = "ACCT" // Send account information
	CWD  Command = "CWD"  // Change working directory
	CDUP Command = "CDUP" // Change to parent directory
	SMNT Command = "SMNT" // Structure mount
	REIN Command = "REIN" // Reinitialize the session
	QUIT Command = "QUIT" // Disconnect from the server

	// Transfer parameters
	PORT Command = "PORT" // Active mode, client address and port
	PASV Command = "PASV" // Passive mode
	EPSV Command = "EPSV" // Extended passive mode
	TYPE Command = "TYPE" // Representation type
	STRU Command = "STRU" // File structure
	MODE Command = "MODE" // Transfer mode

	// Service commands
	RETR Command = "RETR" // Retrieve a file
	STOR Command = "STOR" // Store a file
	STOU Command = "STOU" // Store a file with a unique name
	APPE Command = "APPE" // Append to a file
	REST Command = "REST" // Restart an interrupted transfer
	RNFR Command = "RNFR" // Rename from
	RNTO Command = "RNTO" // Rename to
	ABOR Command = "ABOR" // Abort the transfers in flight
	DELE Command = "DELE" // Delete a file
	RMD  Command = "RMD"  // Remove directory
	MKD  Command = "MKD"  // Make directory
	PWD  Command = "PWD"  // Print working directory
	LIST Command = "LIST" // List directory contents
	NLST Command = "NLST" // List file names
	MLSD Command = "MLSD" // Machine readable listing
	SIZE Command = "SIZE" // File size
	MDTM Command = "MDTM" // File modification time
	SYST Command = "SYST" // Operating system type
	STAT Command = "STAT" // Server status
	HELP Command = "HELP" // Get help
	NOOP Command = "NOOP" // No operation
	FEAT Command = "FEAT" // Feature list
	OPTS Command = "OPTS" // Set or query an option
)
