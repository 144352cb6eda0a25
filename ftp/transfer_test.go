package ftp

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	ftpclient "github.com/jlaffaye/ftp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telebroad/ftpserver/users"
)

func dialFTP(t *testing.T, ts *testServer, user, pass string) *ftpclient.ServerConn {
	t.Helper()
	conn, err := ftpclient.Dial(ts.addr, ftpclient.DialWithTimeout(5*time.Second))
	require.NoError(t, err)
	require.NoError(t, conn.Login(user, pass))
	t.Cleanup(func() {
		_ = conn.Quit()
	})
	return conn
}

func readAll(t *testing.T, r *ftpclient.Response) string {
	t.Helper()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	return string(b)
}

func Test_ClientSession(t *testing.T) {
	u := users.NewLocalUsers()
	_, err := u.Add("alice", "secret")
	require.NoError(t, err)
	ts := startServer(t, u)
	conn := dialFTP(t, ts, "alice", "secret")

	require.NoError(t, conn.NoOp())
	require.NoError(t, conn.MakeDir("docs"))
	require.NoError(t, conn.ChangeDir("docs"))
	wd, err := conn.CurrentDir()
	require.NoError(t, err)
	assert.Equal(t, "docs", wd)

	require.NoError(t, conn.Stor("readme.txt", strings.NewReader("hello world")))
	assert.Equal(t, "hello world", ts.readFile(t, "/docs/readme.txt"))

	r, err := conn.Retr("readme.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", readAll(t, r))

	size, err := conn.FileSize("readme.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 11, size)

	modTime := time.Date(2023, 7, 1, 8, 30, 0, 0, time.UTC)
	require.NoError(t, ts.mem.Chtimes("/docs/readme.txt", modTime, modTime))
	got, err := conn.GetTime("readme.txt")
	require.NoError(t, err)
	assert.True(t, modTime.Equal(got), got)

	require.NoError(t, conn.MakeDir("inner"))
	entries, err := conn.List("")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	byName := map[string]*ftpclient.Entry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	require.Contains(t, byName, "readme.txt")
	require.Contains(t, byName, "inner")
	assert.Equal(t, ftpclient.EntryTypeFile, byName["readme.txt"].Type)
	assert.EqualValues(t, 11, byName["readme.txt"].Size)
	assert.True(t, modTime.Equal(byName["readme.txt"].Time))
	assert.Equal(t, ftpclient.EntryTypeFolder, byName["inner"].Type)

	names, err := conn.NameList("")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"inner", "readme.txt"}, names)

	require.NoError(t, conn.Rename("readme.txt", "inner/moved.txt"))
	assert.Equal(t, "hello world", ts.readFile(t, "/docs/inner/moved.txt"))
	assert.Error(t, conn.RemoveDir("inner"))
	require.NoError(t, conn.Delete("inner/moved.txt"))
	require.NoError(t, conn.RemoveDir("inner"))

	// CDUP replies 200, which ChangeDirToParent does not accept
	require.NoError(t, conn.ChangeDir(".."))
	wd, err = conn.CurrentDir()
	require.NoError(t, err)
	assert.Equal(t, "", wd)

	_, err = conn.Retr("missing.txt")
	assert.Error(t, err)
	require.NoError(t, conn.NoOp())
}

func Test_RestartOffsetAppliesOnce(t *testing.T) {
	ts := startServer(t, nil)
	ts.writeFile(t, "/f.txt", []byte("0123456789"))
	conn := dialFTP(t, ts, "anonymous", "anonymous")

	r, err := conn.RetrFrom("f.txt", 4)
	require.NoError(t, err)
	assert.Equal(t, "456789", readAll(t, r))

	r, err = conn.Retr("f.txt")
	require.NoError(t, err)
	assert.Equal(t, "0123456789", readAll(t, r))

	require.NoError(t, conn.StorFrom("f.txt", strings.NewReader("ab"), 3))
	assert.Equal(t, "012ab56789", ts.readFile(t, "/f.txt"))

	require.NoError(t, conn.Stor("f.txt", strings.NewReader("new")))
	assert.Equal(t, "new", ts.readFile(t, "/f.txt"))
}

func Test_Append(t *testing.T) {
	ts := startServer(t, nil)
	conn := dialFTP(t, ts, "anonymous", "anonymous")

	require.NoError(t, conn.Append("log.txt", strings.NewReader("one\n")))
	require.NoError(t, conn.Append("log.txt", strings.NewReader("two\n")))
	assert.Equal(t, "one\ntwo\n", ts.readFile(t, "/log.txt"))
}

func Test_LargeTransfer(t *testing.T) {
	ts := startServer(t, nil, func(s *Server) { s.BufferSize = 32 * 1024 })
	conn := dialFTP(t, ts, "anonymous", "anonymous")

	payload := bytes.Repeat([]byte("0123456789abcdef"), 256*1024)
	require.NoError(t, conn.Stor("big.bin", bytes.NewReader(payload)))

	r, err := conn.Retr("big.bin")
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.True(t, bytes.Equal(payload, b), "downloaded bytes differ")
}

func Test_StoreUnique(t *testing.T) {
	ts := startServer(t, nil)
	c := dialClient(t, ts.addr)
	c.login(t)

	first := strings.TrimPrefix(c.upload(t, "STOU", "first"), "FILE: ")
	second := strings.TrimPrefix(c.upload(t, "STOU", "second"), "FILE: ")
	assert.NotEqual(t, first, second)
	assert.True(t, strings.HasPrefix(first, "FTP") && strings.HasSuffix(first, ".tmp"), first)
	assert.Equal(t, "first", ts.readFile(t, "/"+first))
	assert.Equal(t, "second", ts.readFile(t, "/"+second))

	seen := map[string]bool{first: true, second: true}
	for i := range 20 {
		name := strings.TrimPrefix(c.upload(t, "STOU", strconv.Itoa(i)), "FILE: ")
		require.False(t, seen[name], "duplicate name %s", name)
		seen[name] = true
		assert.Equal(t, strconv.Itoa(i), ts.readFile(t, "/"+name))
	}
	assert.Len(t, seen, 22)

	assert.Equal(t, "FILE: wanted.txt", c.upload(t, "STOU wanted.txt", "a"))
	taken := strings.TrimPrefix(c.upload(t, "STOU wanted.txt", "b"), "FILE: ")
	assert.True(t, strings.HasPrefix(taken, "FTP") && strings.HasSuffix(taken, ".txt"), taken)
	assert.Equal(t, "a", ts.readFile(t, "/wanted.txt"))
	assert.Equal(t, "b", ts.readFile(t, "/"+taken))
}

func Test_StoreSanitizesRejectedName(t *testing.T) {
	ts := startServer(t, nil)
	c := dialClient(t, ts.addr)
	c.login(t)

	c.upload(t, `STOR ../../x:y.txt`, "data")
	assert.Equal(t, "data", ts.readFile(t, "/.._.._x_y.txt"))
}

func Test_Abort(t *testing.T) {
	ts := startServer(t, nil)
	c := dialClient(t, ts.addr)
	c.login(t)

	c.expect(t, "ABOR", StatusClosingDataConnection)

	require.NoError(t, afero.WriteFile(ts.mem, "/big.bin", bytes.Repeat([]byte{'x'}, 32<<20), 0o644))
	data := c.epsv(t)
	c.expect(t, "RETR big.bin", StatusFileStatusOK)
	_, err := io.ReadFull(data, make([]byte, 1))
	require.NoError(t, err)

	c.expect(t, "ABOR", StatusConnectionClosedTransferAborted)
	code, _ := c.read(t)
	assert.Equal(t, StatusClosingDataConnection, code)

	c.expect(t, "NOOP", StatusCommandOK)
	ts.writeFile(t, "/small.txt", []byte("xx"))
	assert.Equal(t, "xx", c.retrieve(t, "RETR small.txt"))
}

func Test_ClientResetReportsAbort(t *testing.T) {
	ts := startServer(t, nil)
	c := dialClient(t, ts.addr)
	c.login(t)

	require.NoError(t, afero.WriteFile(ts.mem, "/big.bin", bytes.Repeat([]byte{'x'}, 32<<20), 0o644))
	data := c.epsv(t)
	c.expect(t, "RETR big.bin", StatusFileStatusOK)
	_, err := io.ReadFull(data, make([]byte, 1))
	require.NoError(t, err)
	require.NoError(t, data.Close())

	code, _ := c.read(t)
	assert.Contains(t, []int{StatusConnectionClosedTransferAborted, StatusRequestedFileActionNotTaken}, code)
	c.expect(t, "NOOP", StatusCommandOK)
}

func Test_RetrieveDirectory(t *testing.T) {
	ts := startServer(t, nil)
	c := dialClient(t, ts.addr)
	c.login(t)
	require.NoError(t, ts.mem.Mkdir("/d", 0o755))

	c.epsv(t)
	c.expect(t, "RETR d", StatusFileUnavailable)
	c.expect(t, "RETR missing", StatusFileUnavailable)
}

func Test_RestartValidation(t *testing.T) {
	ts := startServer(t, nil)
	c := dialClient(t, ts.addr)
	c.login(t)

	c.expect(t, "REST x", StatusSyntaxErrorInParameters)
	c.expect(t, "REST -1", StatusSyntaxErrorInParameters)
	assert.Equal(t, "Restarting at 3", c.expect(t, "REST 3", StatusFileActionPending))
}

func Test_SanitizeFileName(t *testing.T) {
	assert.Equal(t, "a_b_c_d", sanitizeFileName(`a\b:c*d`))
	assert.Equal(t, "plain.txt", sanitizeFileName("plain.txt"))
	assert.Equal(t, "__x", sanitizeFileName("<>x"))
}
