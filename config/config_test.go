package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telebroad/ftpserver/ftp"
	"github.com/telebroad/ftpserver/users"
	"golang.org/x/crypto/bcrypt"
)

func validConfig() *Config {
	cfg := &Config{}
	cfg.EnsureDefaults()
	return cfg
}

func Test_EnsureDefaults(t *testing.T) {
	cfg := &Config{Auth: AuthConfig{Mode: "TABLE"}, Log: LogConfig{Level: "debug"}, PublicIP: " Auto "}
	cfg.EnsureDefaults()

	assert.Equal(t, DefaultAddr, cfg.Addr)
	assert.Equal(t, DefaultRoot, cfg.Root)
	assert.Equal(t, ftp.DefaultIdleTimeout, cfg.IdleTimeout)
	assert.Equal(t, ftp.DefaultBufferSize, cfg.BufferSize)
	assert.Equal(t, ftp.DefaultWelcomeMessage, cfg.WelcomeMessage)
	assert.Equal(t, AuthModeTable, cfg.Auth.Mode)
	assert.Equal(t, "DEBUG", cfg.Log.Level)
	assert.Equal(t, PublicIPAuto, cfg.PublicIP)

	cfg = &Config{IdleTimeout: time.Minute}
	cfg.EnsureDefaults()
	assert.Equal(t, time.Minute, cfg.IdleTimeout)
	assert.Equal(t, AuthModeNone, cfg.Auth.Mode)
}

func Test_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "public ip", mutate: func(c *Config) { c.PublicIP = "203.0.113.7" }},
		{name: "public ip auto", mutate: func(c *Config) { c.PublicIP = PublicIPAuto }},
		{name: "public ipv6", mutate: func(c *Config) { c.PublicIP = "::1" }, wantErr: true},
		{name: "bad addr", mutate: func(c *Config) { c.Addr = "nohostport" }, wantErr: true},
		{name: "port range", mutate: func(c *Config) { c.PasvMinPort, c.PasvMaxPort = 30000, 30010 }},
		{name: "reversed port range", mutate: func(c *Config) { c.PasvMinPort, c.PasvMaxPort = 30010, 30000 }, wantErr: true},
		{name: "half port range", mutate: func(c *Config) { c.PasvMinPort = 30000 }, wantErr: true},
		{name: "port too big", mutate: func(c *Config) { c.PasvMinPort, c.PasvMaxPort = 1, 70000 }, wantErr: true},
		{name: "unknown auth mode", mutate: func(c *Config) { c.Auth.Mode = "ldap" }, wantErr: true},
		{name: "table without users", mutate: func(c *Config) { c.Auth.Mode = AuthModeTable }, wantErr: true},
		{name: "table", mutate: func(c *Config) {
			c.Auth.Mode = AuthModeTable
			c.Auth.Users = []UserConfig{{Username: "alice", Password: "pw", IPs: []string{"10.0.0.0/8", "127.0.0.1"}}}
		}},
		{name: "user bad ip", mutate: func(c *Config) {
			c.Auth.Users = []UserConfig{{Username: "alice", Password: "pw", IPs: []string{"nope"}}}
		}, wantErr: true},
		{name: "duplicate users", mutate: func(c *Config) {
			c.Auth.Users = []UserConfig{{Username: "a", Password: "1"}, {Username: "a", Password: "2"}}
		}, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "TRACE" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func Test_Authenticator(t *testing.T) {
	cfg := validConfig()
	auth, err := cfg.Authenticator()
	require.NoError(t, err)
	assert.IsType(t, users.NoAuth{}, auth)

	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg.Auth.Mode = AuthModeTable
	cfg.Auth.Users = []UserConfig{
		{Username: "alice", Password: "secret", IPs: []string{"127.0.0.1"}},
		{Username: "bob", Password: string(hash)},
	}
	auth, err = cfg.Authenticator()
	require.NoError(t, err)
	assert.True(t, auth.Authenticate("alice", "secret", "127.0.0.1"))
	assert.False(t, auth.Authenticate("alice", "secret", "10.1.1.1"))
	assert.True(t, auth.Authenticate("bob", "pw", "10.1.1.1"))
	assert.False(t, auth.Authenticate("bob", "wrong", "10.1.1.1"))

	cfg.Auth.Users = []UserConfig{{Username: "carol", Password: "pw", IPs: []string{"bad"}}}
	_, err = cfg.Authenticator()
	assert.Error(t, err)
}
