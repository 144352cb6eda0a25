// Package cmd contains the CLI wiring for the ftpserver application.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/knadh/koanf"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	kenv "github.com/knadh/koanf/providers/env"
	kfile "github.com/knadh/koanf/providers/file"
	kposflag "github.com/knadh/koanf/providers/posflag"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/telebroad/ftpserver/config"
	"github.com/telebroad/ftpserver/filesystem"
	"github.com/telebroad/ftpserver/ftp"
)

const envPrefix = "FTPSERVER_"

// flagKeys maps flag names to config keys; flags missing here are not config
var flagKeys = map[string]string{
	"addr":            "addr",
	"root":            "root",
	"public-ip":       "public_ip",
	"pasv-min-port":   "pasv_min_port",
	"pasv-max-port":   "pasv_max_port",
	"idle-timeout":    "idle_timeout",
	"buffer-size":     "buffer_size",
	"welcome-message": "welcome_message",
	"auth-mode":       "auth.mode",
	"log-level":       "log.level",
	"log-add-source":  "log.add_source",
	"log-no-color":    "log.no_color",
}

var rootCmd = &cobra.Command{
	Use:          "ftpserver",
	Short:        "FTP server",
	Long:         "ftpserver serves a local directory over FTP (RFC 959) with passive and active data connections.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd.PersistentFlags())
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	},
}

// loadConfig layers the config file, the environment and the flags, in that order of precedence
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	k := koanf.New(".")

	if cfgPath, _ := flags.GetString("config"); cfgPath != "" {
		if err := k.Load(kfile.Provider(cfgPath), kyaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", cfgPath, err)
		}
	}

	// FTPSERVER_LOG__LEVEL sets log.level
	if err := k.Load(kenv.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}

	if err := k.Load(kposflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, kposflag.FlagVal(flags, f)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	var cfg config.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// run serves until ctx is done
func run(ctx context.Context, cfg *config.Config) error {
	logger := setupLogger(os.Stdout, cfg.Log)

	localFS, err := filesystem.NewLocalFS(cfg.Root)
	if err != nil {
		return err
	}
	auth, err := cfg.Authenticator()
	if err != nil {
		return fmt.Errorf("error loading users: %w", err)
	}

	ftpServer, err := ftp.NewServer(cfg.Addr, localFS, auth)
	if err != nil {
		return err
	}
	ftpServer.SetLogger(logger.With("module", "ftp-server"))
	ftpServer.PasvMinPort = cfg.PasvMinPort
	ftpServer.PasvMaxPort = cfg.PasvMaxPort
	ftpServer.IdleTimeout = cfg.IdleTimeout
	ftpServer.BufferSize = cfg.BufferSize
	ftpServer.WelcomeMessage = cfg.WelcomeMessage

	publicIP := cfg.PublicIP
	if publicIP == config.PublicIPAuto {
		logger.Info("Getting public ip from ipify.org")
		lookupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		publicIP, err = ftp.GetServerPublicIP(lookupCtx)
		cancel()
		if err != nil {
			return err
		}
	}
	if err = ftpServer.SetPublicServerIPv4(publicIP); err != nil {
		return err
	}

	if err = ftpServer.TryListenAndServe(time.Second); err != nil {
		return fmt.Errorf("error starting ftp server: %w", err)
	}
	logger.Info("FTP server started", "addr", cfg.Addr, "root", cfg.Root, "auth", cfg.Auth.Mode)

	<-ctx.Done()
	if err = ftpServer.Close(context.Cause(ctx)); err != nil && !errors.Is(err, ftp.ErrServerClosed) {
		return err
	}
	return nil
}

// RegisterFlags registers the persistent flags of the root command
func RegisterFlags() {
	registerFlags(rootCmd.PersistentFlags())
}

func registerFlags(pf *pflag.FlagSet) {
	pf.StringP("config", "c", "", "Configuration file path (YAML)")
	pf.StringP("addr", "a", config.DefaultAddr, "Address to listen on")
	pf.StringP("root", "r", config.DefaultRoot, "Directory served as the FTP root")
	pf.String("public-ip", "", `IPv4 advertised in PASV replies, "auto" asks ipify`)
	pf.Int("pasv-min-port", 0, "Lowest passive port, 0 for any")
	pf.Int("pasv-max-port", 0, "Highest passive port, 0 for any")
	pf.Duration("idle-timeout", ftp.DefaultIdleTimeout, "Close sessions idle for this long")
	pf.Int("buffer-size", ftp.DefaultBufferSize, "Copy buffer size for transfers")
	pf.String("welcome-message", ftp.DefaultWelcomeMessage, "Text of the 220 greeting")
	pf.String("auth-mode", config.AuthModeNone, "Authentication mode: none or table")
	pf.String("log-level", config.DefaultLogLevel, "Log level: DEBUG, INFO, WARN or ERROR")
	pf.Bool("log-add-source", false, "Add the source location to log lines")
	pf.Bool("log-no-color", false, "Disable colored logs")
}

// Execute sets the version and runs the root command.
func Execute(version string) error {
	rootCmd.Version = version
	return rootCmd.Execute()
}
