package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wirebus/pkg/api"
	"wirebus/pkg/asm"
	"wirebus/pkg/codec"
	"wirebus/pkg/cpu"
	"wirebus/pkg/devices"
	"wirebus/pkg/isa"
	"wirebus/pkg/peripherals"
	"wirebus/pkg/store"
	"wirebus/pkg/utils"
)

// exitFault is the status for scripts that compile but fault at run time.
const exitFault = 2

func (a *app) width(flag int) (isa.Width, error) {
	if flag == 0 {
		return a.cfg.Width(), nil
	}
	return isa.ParseWidth(flag)
}

// load returns the image at path, compiling it unless it is a .bin file.
func (a *app) load(path string, w isa.Width) (*asm.Program, []uint64, isa.Width, error) {
	fullPath, _, err := utils.GetPathInfo(path)
	if err != nil {
		return nil, nil, 0, err
	}
	if utils.IsImage(fullPath) {
		words, w, err := codec.ReadFile(fullPath, 0)
		return nil, words, w, err
	}
	source, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, nil, 0, err
	}
	p, err := asm.Build(string(source), asm.WithWidth(w), asm.WithLogger(a.logger))
	if err != nil {
		return nil, nil, 0, err
	}
	return p, p.Image, p.Width, nil
}

func (a *app) compileCmd() *cobra.Command {
	var (
		widthFlag int
		out       string
	)
	cmd := &cobra.Command{
		Use:   "compile [source]",
		Short: "Compile a script into a bytecode image",
		Long:  "Compile a script into a bytecode image. Without a source argument the\n[build] source and output of the config are used.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.width(widthFlag)
			if err != nil {
				return err
			}
			source := a.cfg.Path(a.cfg.Build.Source)
			if len(args) == 1 {
				source = args[0]
			}
			p, _, _, err := a.load(source, w)
			if err != nil {
				return err
			}
			if p == nil {
				return fmt.Errorf("%s is already an image", source)
			}

			if out == "" {
				if len(args) == 1 {
					out = utils.ImagePath(source)
				} else {
					out = a.cfg.Path(a.cfg.Build.Output)
				}
			}
			if err := codec.WriteFile(out, p.Image, p.Width); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "compiled %d words (%d code, %d data, %s) -> %s\n",
				len(p.Image), p.DataStart, len(p.Vars), p.Width, out)
			return nil
		},
	}
	cmd.Flags().IntVarP(&widthFlag, "width", "w", 0, "register width in bits (8, 16, 32, 64); defaults to the config")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output image path (default: source with .bin extension, or [build] output)")
	return cmd
}

func (a *app) runCmd() *cobra.Command {
	var (
		widthFlag int
		rawParams []string
		maxSteps  int
		snapshot  string
		dbPath    string
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run image|source",
		Short: "Run an image or script against the configured ports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.width(widthFlag)
			if err != nil {
				return err
			}
			_, words, w, err := a.load(args[0], w)
			if err != nil {
				return err
			}
			params := a.cfg.Run.Params
			if cmd.Flags().Changed("param") {
				if params, err = parseParams(rawParams); err != nil {
					return err
				}
			}
			if !cmd.Flags().Changed("max-steps") {
				maxSteps = a.cfg.Run.MaxSteps
			}

			runID := uuid.NewString()
			var sink peripherals.EventSink
			if dbPath != "" {
				st, err := store.Open(dbPath, store.WithLogger(a.logger))
				if err != nil {
					return err
				}
				defer st.Close()
				sink = st
			}

			ports := a.cfg.PortConfigs()
			for i := range ports {
				ports[i].Writer = cmd.OutOrStdout()
			}
			bus := devices.NewBus(devices.WithLogger(a.logger))
			if _, err := peripherals.Mount(bus, ports, sink, runID); err != nil {
				return err
			}

			vm := cpu.NewCPU(words,
				cpu.WithDevice(bus),
				cpu.WithWidth(w),
				cpu.WithMaxSteps(maxSteps),
				cpu.WithStackDepth(a.cfg.Run.StackDepth),
				cpu.WithRunID(runID),
				cpu.WithLogger(a.logger),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			result, runErr := vm.Run(ctx, params...)
			if snapshot != "" {
				if err := writeSnapshot(snapshot, vm); err != nil {
					return err
				}
			}
			if runErr != nil {
				return &exitError{code: exitFault, err: runErr}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "result=%d steps=%d run_id=%s\n", result, vm.Steps, runID)
			return nil
		},
	}
	cmd.Flags().IntVarP(&widthFlag, "width", "w", 0, "register width for source scripts; defaults to the config")
	cmd.Flags().StringSliceVarP(&rawParams, "param", "p", nil, "initial stack values, first on top (decimal or 0x hex)")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "instruction budget, 0 for unlimited; defaults to the config")
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "write the final machine state to this file")
	cmd.Flags().StringVar(&dbPath, "db", "", "record port events in this SQLite database")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "cancel the run after this long")
	return cmd
}

func parseParams(raw []string) ([]uint64, error) {
	params := make([]uint64, 0, len(raw))
	for _, r := range raw {
		v, err := strconv.ParseUint(r, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("bad param %q: %w", r, err)
		}
		params = append(params, v)
	}
	return params, nil
}

func writeSnapshot(path string, vm *cpu.CPU) error {
	data, err := vm.Snapshot()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (a *app) dumpCmd() *cobra.Command {
	var widthFlag int
	cmd := &cobra.Command{
		Use:   "dump image|source",
		Short: "Print a disassembly listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.width(widthFlag)
			if err != nil {
				return err
			}
			p, words, w, err := a.load(args[0], w)
			if err != nil {
				return err
			}
			var listing string
			if p != nil {
				listing = p.Listing()
			} else {
				listing = asm.Format(asm.Disassemble(words, len(words)))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "; %d words, %s\n%s", len(words), w, listing)
			return nil
		},
	}
	cmd.Flags().IntVarP(&widthFlag, "width", "w", 0, "register width for source scripts; defaults to the config")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	var addr, dbPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the compile, run and image API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Serve.Addr
			}
			if dbPath == "" {
				dbPath = a.cfg.Path(a.cfg.Serve.DB)
			}

			st, err := store.Open(dbPath, store.WithLogger(a.logger))
			if err != nil {
				return err
			}
			defer st.Close()

			srv, err := api.NewServer(api.ServerConfig{
				ListenerAddr: addr,
				Logger:       a.logger,
				MaxSteps:     a.cfg.Run.MaxSteps,
				StackDepth:   a.cfg.Run.StackDepth,
				Ports:        a.cfg.PortConfigs(),
			}, st)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.logger.Warn("shutdown", zap.Error(err))
				}
			}()

			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address; defaults to the config")
	cmd.Flags().StringVar(&dbPath, "db", "", "image database; defaults to the config")
	return cmd
}
