package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wirebus/pkg/config"
)

type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "wirebus",
		Short: "Compiler, disassembler and runner for wirebus device scripts",
		Long: `wirebus compiles line-oriented stack machine scripts into compact
bytecode images for small devices, and runs them against a bus of
configured ports.

Settings are read from wirebus.toml, searched for upward from the
current directory unless --config names one.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to wirebus.toml or the directory holding it")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config")

	root.AddCommand(
		a.compileCmd(),
		a.runCmd(),
		a.dumpCmd(),
		a.serveCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) loadConfig() (*config.Config, error) {
	if a.configPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		cfg, err := config.FindAndLoad(cwd)
		if err != nil {
			return nil, err
		}
		if cfg == nil {
			cfg = config.Default()
		}
		return cfg, nil
	}

	dir := a.configPath
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		if filepath.Base(dir) != config.FileName {
			return nil, fmt.Errorf("config file must be named %s", config.FileName)
		}
		dir = filepath.Dir(dir)
	}
	return config.Load(dir)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		os.Exit(1)
	}
}

// exitError carries a specific process exit status.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }
