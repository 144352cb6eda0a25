// Package config holds the typed configuration of the ftpserver command and its validation.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/telebroad/ftpserver/ftp"
	"github.com/telebroad/ftpserver/users"
)

const (
	DefaultAddr     = ":2121"
	DefaultRoot     = "./data"
	DefaultLogLevel = "INFO"

	AuthModeNone  = "none"
	AuthModeTable = "table"

	// PublicIPAuto asks ipify for the address advertised in PASV replies
	PublicIPAuto = "auto"
)

// Config is the full server configuration, loaded by koanf
type Config struct {
	Addr           string        `koanf:"addr" validate:"required"`
	Root           string        `koanf:"root" validate:"required"`
	PublicIP       string        `koanf:"public_ip" validate:"omitempty,eq=auto|ipv4"`
	PasvMinPort    int           `koanf:"pasv_min_port" validate:"gte=0,lte=65535"`
	PasvMaxPort    int           `koanf:"pasv_max_port" validate:"gte=0,lte=65535"`
	IdleTimeout    time.Duration `koanf:"idle_timeout" validate:"gte=0"`
	BufferSize     int           `koanf:"buffer_size" validate:"gte=0"`
	WelcomeMessage string        `koanf:"welcome_message"`
	Auth           AuthConfig    `koanf:"auth"`
	Log            LogConfig     `koanf:"log"`
}

type AuthConfig struct {
	Mode  string       `koanf:"mode" validate:"oneof=none table"`
	Users []UserConfig `koanf:"users" validate:"dive"`
}

// UserConfig is one entry of the credential table.
// A password starting with "$2" is taken as a bcrypt hash.
type UserConfig struct {
	Username string   `koanf:"username" validate:"required"`
	Password string   `koanf:"password" validate:"required"`
	IPs      []string `koanf:"ips" validate:"dive,cidr|ip"`
}

type LogConfig struct {
	Level     string `koanf:"level" validate:"oneof=DEBUG INFO WARN ERROR"`
	AddSource bool   `koanf:"add_source"`
	NoColor   bool   `koanf:"no_color"`
}

// EnsureDefaults fills the zero values
func (c *Config) EnsureDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Root == "" {
		c.Root = DefaultRoot
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = ftp.DefaultIdleTimeout
	}
	if c.BufferSize == 0 {
		c.BufferSize = ftp.DefaultBufferSize
	}
	if c.WelcomeMessage == "" {
		c.WelcomeMessage = ftp.DefaultWelcomeMessage
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = AuthModeNone
	}
	c.Auth.Mode = strings.ToLower(c.Auth.Mode)
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	c.Log.Level = strings.ToUpper(c.Log.Level)
	c.PublicIP = strings.TrimSpace(c.PublicIP)
	if strings.EqualFold(c.PublicIP, PublicIPAuto) {
		c.PublicIP = PublicIPAuto
	}
}

var validate = validator.New()

// Validate checks the struct tags and the rules spanning several fields
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("addr: %w", err)
	}
	if (c.PasvMinPort == 0) != (c.PasvMaxPort == 0) {
		return errors.New("pasv_min_port and pasv_max_port must be set together")
	}
	if c.PasvMinPort > c.PasvMaxPort {
		return fmt.Errorf("pasv_min_port %d is greater than pasv_max_port %d", c.PasvMinPort, c.PasvMaxPort)
	}
	if c.Auth.Mode == AuthModeTable && len(c.Auth.Users) == 0 {
		return errors.New("auth.users: table mode needs at least one user")
	}
	names := make(map[string]bool, len(c.Auth.Users))
	for i, u := range c.Auth.Users {
		if names[u.Username] {
			return fmt.Errorf("auth.users[%d]: duplicate username %q", i, u.Username)
		}
		names[u.Username] = true
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}

// Authenticator builds the credential policy selected by auth.mode
func (c *Config) Authenticator() (users.Authenticator, error) {
	if c.Auth.Mode != AuthModeTable {
		return users.NoAuth{}, nil
	}
	table := users.NewLocalUsers()
	for _, u := range c.Auth.Users {
		var (
			user *users.User
			err  error
		)
		if strings.HasPrefix(u.Password, "$2") {
			user, err = table.AddHashed(u.Username, u.Password)
		} else {
			user, err = table.Add(u.Username, u.Password)
		}
		if err != nil {
			return nil, err
		}
		for _, ip := range u.IPs {
			if err = user.AddIP(ip); err != nil {
				return nil, fmt.Errorf("user %s: %w", u.Username, err)
			}
		}
	}
	return table, nil
}
