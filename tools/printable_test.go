package tools

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_MaskSecrets(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"PASS secret\r\n", "PASS ****\r\n"},
		{"pass secret\n", "pass ****\n"},
		{"USER alice\r\nPASS secret\r\nNOOP\r\n", "USER alice\r\nPASS ****\r\nNOOP\r\n"},
		{"PASS partial", "PASS ****"},
		{"PASSWORD x\r\n", "PASSWORD x\r\n"},
		{"USER alice\r\n", "USER alice\r\n"},
	}
	for _, tt := range tests {
		in := []byte(tt.in)
		assert.Equal(t, tt.want, string(MaskSecrets(in)))
		assert.Equal(t, tt.in, string(in), "input must not change")
	}
}

func Test_IsPrintable(t *testing.T) {
	assert.Equal(t, "USER alice", IsPrintable("USER alice\r\n"))
	assert.Equal(t, "ab", IsPrintable([]byte{'a', 0x00, 'b', '\n'}))
	assert.Equal(t, "héllo", IsPrintable([]rune("h\téllo")))
}

func Test_BufLogReadWriterMasksPasswords(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var out bytes.Buffer
	conn := struct {
		io.Reader
		io.Writer
	}{strings.NewReader("PASS hunter2\r\n"), &out}

	rw := NewBufLogReadWriter(conn, logger, 64)
	line, err := rw.ReadSlice('\n')
	require.NoError(t, err)
	assert.Equal(t, "PASS hunter2\r\n", string(line))
	assert.Empty(t, logs.String(), "reads are logged by line")
	rw.LogRequest(line)

	_, err = rw.Write([]byte("230 ok\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "230 ok\r\n", out.String())

	assert.NotContains(t, logs.String(), "hunter2")
	assert.Contains(t, logs.String(), "PASS ****")
	assert.Contains(t, logs.String(), "230 ok")
}

func Test_BufLogReadWriterMasksSplitLines(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// one byte per Read splits the PASS verb from its argument
	conn := struct {
		io.Reader
		io.Writer
	}{iotest.OneByteReader(strings.NewReader("USER alice\r\nPASS hunter2\r\n")), io.Discard}

	rw := NewBufLogReadWriter(conn, logger, 64)
	for range 2 {
		line, err := rw.ReadSlice('\n')
		require.NoError(t, err)
		rw.LogRequest(line)
	}

	assert.NotContains(t, logs.String(), "hunter2")
	assert.Contains(t, logs.String(), "PASS ****")
	assert.Contains(t, logs.String(), "USER alice")
}
