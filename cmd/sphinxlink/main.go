// Command sphinxlink streams audio to a Sphinx speech recognition server.
//
// Usage:
//
//	sphinxlink recognize [--grammar name] [files...]
//	sphinxlink serve [--config sphinxlink.yaml]
//	sphinxlink check [--grammar name]
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/MrWong99/sphinxlink/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

// defaultConfigPath is read when --config is not given; it may be absent.
const defaultConfigPath = "sphinxlink.yaml"

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string

	// level is shared by every handler so that reloads can change it.
	level slog.LevelVar
}

func (o *globalOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configPath, "config", "c", "", "path to the YAML configuration file (default "+defaultConfigPath+" if present)")
	fs.StringVarP(&o.envFile, "env", "e", ".env", "dotenv file with SPHINX_* overrides")
	fs.StringVarP(&o.logLevel, "log-level", "l", "", "log level: debug, info, warn, error (overrides the config)")
	fs.StringVar(&o.logFormat, "log-format", "", "log format: text, json, tint (overrides the config)")
}

// applyFlags overrides the logging settings of cfg with the flags that
// were given.
func (o *globalOptions) applyFlags(cfg *config.Config) {
	if o.logLevel != "" {
		cfg.Server.LogLevel = config.LogLevel(o.logLevel)
	}
	if o.logFormat != "" {
		cfg.Server.LogFormat = config.LogFormat(o.logFormat)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("sphinxlink failed", "err", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "sphinxlink",
		Short:         "Stream audio to a Sphinx speech recognition server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.addFlags(root.PersistentFlags())
	root.AddCommand(
		recognizeCmd(opts),
		serveCmd(opts),
		checkCmd(opts),
	)
	return root
}

// setup loads the env file and the configuration and installs the logger.
// It returns the loaded config and the path it came from ("" when no file
// was read).
func (o *globalOptions) setup() (*config.Config, string, error) {
	if err := config.LoadEnvFile(o.envFile); err != nil {
		return nil, "", err
	}

	path := o.configPath
	var (
		cfg *config.Config
		err error
	)
	switch {
	case path != "":
		cfg, err = config.Load(path)
	default:
		cfg, err = config.Load(defaultConfigPath)
		path = defaultConfigPath
		if errors.Is(err, fs.ErrNotExist) {
			cfg, err = config.LoadFromReader(strings.NewReader(""))
			path = ""
		}
	}
	if err != nil {
		return nil, "", err
	}

	o.applyFlags(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, "", fmt.Errorf("invalid flags: %w", err)
	}

	o.level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(os.Stderr, cfg.Server.LogFormat, &o.level))
	slog.Debug("configuration loaded", "path", path, "version", version)
	return cfg, path, nil
}
