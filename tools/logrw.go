package tools

import (
	"bufio"
	"io"
	"log/slog"
)

// LogWriter is a wrapper around an io.Writer that logs all writes to a slog.Logger.
type LogWriter struct {
	Writer io.Writer
	logger *slog.Logger
}

func (w *LogWriter) Write(b []byte) (int, error) {
	if w.logger != nil {
		w.logger.Debug("Respond", "body", IsPrintable(b))
	}
	return w.Writer.Write(b)
}

// NewLogWriter creates a new LogWriter.
func NewLogWriter(w io.Writer, logger *slog.Logger) *LogWriter {
	return &LogWriter{Writer: w, logger: logger}
}

// BufLogReadWriter buffers the reads of a connection and logs its writes.
// Reads are logged a whole line at a time with LogRequest, so a PASS line split over several reads is still masked.
type BufLogReadWriter struct {
	io.Writer
	*bufio.Reader
	logger *slog.Logger
}

// NewBufLogReadWriter creates a new BufLogReadWriter. Reads are buffered with a buffer of size bytes,
// which is also the longest line ReadSlice can return.
// the reason to divide it in 2 structs is to avoid the need to implement all the methods of bufio.ReadWriter
func NewBufLogReadWriter(rw io.ReadWriter, logger *slog.Logger, size int) *BufLogReadWriter {
	return &BufLogReadWriter{
		Reader: bufio.NewReaderSize(rw, size),
		Writer: NewLogWriter(rw, logger),
		logger: logger,
	}
}

// LogRequest logs a complete request line with the PASS argument masked.
func (rw *BufLogReadWriter) LogRequest(line []byte) {
	if rw.logger != nil && len(line) > 0 {
		rw.logger.Debug("Request", "body", IsPrintable(MaskSecrets(line)))
	}
}
