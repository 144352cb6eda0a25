package ftp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_RegistryCommands(t *testing.T) {
	r := NewRegistry()
	var got string
	r.Register("site", RawArg(func(_ *Session, arg string) error {
		got = arg
		return nil
	}), "SITE <cmd>", true)
	r.Register("LIST", NoArgs(func(*Session) error { return nil }), "LIST", true)

	cmd, ok := r.Lookup("SiTe")
	require.True(t, ok)
	assert.True(t, cmd.NeedAuth)
	require.NoError(t, cmd.Handler(nil, "chmod 644 x"))
	assert.Equal(t, "chmod 644 x", got)

	_, ok = r.Lookup("NOPE")
	assert.False(t, ok)
	assert.Equal(t, []string{"LIST", "SITE"}, r.Verbs())

	r.Register("SITE", NoArgs(func(*Session) error { return nil }), "replaced", false)
	cmd, _ = r.Lookup("SITE")
	assert.Equal(t, "replaced", cmd.Help)
	assert.False(t, cmd.NeedAuth)
}

func Test_MultiArgs(t *testing.T) {
	var got []string
	h := MultiArgs(func(_ *Session, args []string) error {
		got = args
		return nil
	})
	require.NoError(t, h(nil, "  MLST   type;size; "))
	assert.Equal(t, []string{"MLST", "type;size;"}, got)

	require.NoError(t, h(nil, ""))
	assert.Empty(t, got)
}

func Test_RegistryFeaturesAndOptions(t *testing.T) {
	r := NewRegistry()
	r.RegisterFeature("EPSV")
	r.RegisterFeature("SIZE")
	r.RegisterFeature("EPSV")
	assert.Equal(t, []string{"EPSV", "SIZE"}, r.Features())

	features := r.Features()
	features[0] = "changed"
	assert.Equal(t, "EPSV", r.Features()[0])

	r.RegisterOption("UTF-8", "ON")
	value, ok := r.Option("utf8")
	require.True(t, ok)
	assert.Equal(t, "ON", value)

	assert.True(t, r.SetOption("UTF8", "OFF"))
	value, _ = r.Option("UTF-8")
	assert.Equal(t, "OFF", value)

	assert.False(t, r.SetOption("MLST", "type;"))
	_, ok = r.Option("MLST")
	assert.False(t, ok)
}

func Test_DefaultRegistry(t *testing.T) {
	r := NewRegistry()
	registerDefaults(r)

	for _, verb := range []string{USER, PASS, ACCT, QUIT, HELP, NOOP, FEAT} {
		cmd, ok := r.Lookup(verb)
		require.True(t, ok, verb)
		assert.False(t, cmd.NeedAuth, verb)
	}
	for _, verb := range []string{CWD, RETR, STOR, LIST, MLSD, PASV, PORT, OPTS, STAT, SYST} {
		cmd, ok := r.Lookup(verb)
		require.True(t, ok, verb)
		assert.True(t, cmd.NeedAuth, verb)
	}
	assert.Len(t, r.Verbs(), 37)

	value, ok := r.Option("MLST")
	require.True(t, ok)
	assert.Equal(t, "Type;Size;Modify;Perm;", value)
}
