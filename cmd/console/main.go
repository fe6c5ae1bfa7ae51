// Command console runs a script headless in a fixed-rate scan loop, the way
// a controller polls its ports, and keeps the machine state in a snapshot
// file so a restart resumes with the same variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wirebus/pkg/asm"
	"wirebus/pkg/codec"
	"wirebus/pkg/config"
	"wirebus/pkg/cpu"
	"wirebus/pkg/devices"
	"wirebus/pkg/isa"
	"wirebus/pkg/peripherals"
	"wirebus/pkg/store"
	"wirebus/pkg/utils"
)

type loopConfig struct {
	Interval     time.Duration
	SaveInterval time.Duration
	// Scans stops the loop after this many scans. Zero runs until cancelled.
	Scans     int
	StatePath string
	Params    []uint64
}

// scanLoop runs vm once per interval until ctx is done or the scan budget is
// spent. State is flushed every SaveInterval and once more on exit.
func scanLoop(ctx context.Context, vm *cpu.CPU, lc loopConfig, out io.Writer, logger *zap.Logger) error {
	ticker := time.NewTicker(lc.Interval)
	defer ticker.Stop()

	var save <-chan time.Time
	if lc.StatePath != "" && lc.SaveInterval > 0 {
		saveTicker := time.NewTicker(lc.SaveInterval)
		defer saveTicker.Stop()
		save = saveTicker.C
	}

	flush := func() {
		if lc.StatePath == "" {
			return
		}
		if err := saveState(lc.StatePath, vm); err != nil {
			logger.Warn("save state", zap.String("path", lc.StatePath), zap.Error(err))
		}
	}
	defer flush()

	for scans := 0; lc.Scans == 0 || scans < lc.Scans; {
		select {
		case <-ctx.Done():
			return nil
		case <-save:
			flush()
		case <-ticker.C:
			scans++
			res, err := vm.Run(ctx, lc.Params...)
			if errors.Is(err, cpu.ErrCancelled) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(out, "scan %d: %v\n", scans, err)
				continue
			}
			logger.Debug("scan", zap.Int("scan", scans), zap.Uint64("result", res), zap.Int("steps", vm.Steps))
		}
	}
	return nil
}

func saveState(path string, vm *cpu.CPU) error {
	data, err := vm.Snapshot()
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// loadMachine restores the saved machine when statePath holds one built from
// the same image, and builds a fresh one otherwise.
func loadMachine(words []uint64, w isa.Width, statePath string, opts []cpu.Option, logger *zap.Logger) (*cpu.CPU, error) {
	fresh := append([]cpu.Option{cpu.WithWidth(w)}, opts...)
	if statePath == "" {
		return cpu.NewCPU(words, fresh...), nil
	}
	data, err := os.ReadFile(statePath)
	if errors.Is(err, os.ErrNotExist) {
		return cpu.NewCPU(words, fresh...), nil
	}
	if err != nil {
		return nil, err
	}

	vm, err := cpu.Restore(data, opts...)
	if err != nil {
		return nil, err
	}
	if vm.Width() != w || !slices.Equal(vm.Image(), words) {
		logger.Info("state file is for a different image, starting fresh", zap.String("path", statePath))
		return cpu.NewCPU(words, fresh...), nil
	}
	logger.Info("resumed state", zap.String("path", statePath), zap.String("run_id", vm.RunID()))
	return vm, nil
}

func main() {
	var (
		configPath string
		lc         loopConfig
		dbPath     string
	)
	cmd := &cobra.Command{
		Use:          "console image|source",
		Short:        "Run a script in a scan loop against the configured ports",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fullPath, baseDir, err := utils.GetPathInfo(args[0])
			if err != nil {
				return err
			}
			if configPath == "" {
				configPath = baseDir
			}
			cfg, err := config.FindAndLoad(configPath)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default()
			}
			logger, err := cfg.Logger()
			if err != nil {
				return err
			}
			defer logger.Sync()
			zap.ReplaceGlobals(logger)

			var (
				words []uint64
				w     = cfg.Width()
			)
			if utils.IsImage(fullPath) {
				words, w, err = codec.ReadFile(fullPath, 0)
			} else {
				words, err = asm.CompileFile(fullPath, w)
			}
			if err != nil {
				return err
			}

			var sink peripherals.EventSink
			if dbPath != "" {
				st, err := store.Open(dbPath)
				if err != nil {
					return err
				}
				defer st.Close()
				sink = st
			}
			bus := devices.NewBus()
			ports := cfg.PortConfigs()
			for i := range ports {
				ports[i].Writer = cmd.OutOrStdout()
			}
			recs, err := peripherals.Mount(bus, ports, sink, "")
			if err != nil {
				return err
			}

			vm, err := loadMachine(words, w, lc.StatePath, []cpu.Option{
				cpu.WithDevice(bus),
				cpu.WithMaxSteps(cfg.Run.MaxSteps),
				cpu.WithStackDepth(cfg.Run.StackDepth),
			}, logger)
			if err != nil {
				return err
			}
			for _, r := range recs {
				r.SetRunID(vm.RunID())
			}
			lc.Params = cfg.Run.Params

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return scanLoop(ctx, vm, lc, cmd.OutOrStdout(), logger)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "directory to search for wirebus.toml (default: the script's directory)")
	cmd.Flags().DurationVar(&lc.Interval, "interval", 100*time.Millisecond, "time between scans")
	cmd.Flags().IntVar(&lc.Scans, "scans", 0, "stop after this many scans (0 runs until interrupted)")
	cmd.Flags().StringVar(&lc.StatePath, "state", "", "snapshot file to resume from and save to")
	cmd.Flags().DurationVar(&lc.SaveInterval, "save-interval", 3*time.Second, "how often to flush the snapshot")
	cmd.Flags().StringVar(&dbPath, "db", "", "record port events in this SQLite database")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
