// Package peripherals holds the port handlers a script can talk to through
// OUT and IN.
package peripherals

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"wirebus/pkg/devices"
)

var ErrUnknownKind = errors.New("unknown port kind")

// Config describes one port to build.
type Config struct {
	Number  uint64
	Kind    string
	Initial uint64
	// Writer receives console output. Defaults to os.Stdout.
	Writer io.Writer
}

// New builds a port handler of the named kind.
func New(cfg Config) (devices.Port, error) {
	switch cfg.Kind {
	case ConsoleType:
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		return NewConsole(w, cfg.Number), nil
	case LatchType:
		return NewLatch(cfg.Initial), nil
	case InputType:
		return NewInput(cfg.Initial), nil
	case CountdownType:
		return NewCountdown(cfg.Initial), nil
	}
	return nil, fmt.Errorf("%w: %q (want one of %v)", ErrUnknownKind, cfg.Kind, Kinds())
}

// Kinds lists the names New accepts.
func Kinds() []string {
	kinds := []string{ConsoleType, LatchType, InputType, CountdownType}
	sort.Strings(kinds)
	return kinds
}

// Mount builds every configured port and mounts it on bus. When sink is not
// nil each port is wrapped in a Recorder tagged with runID.
func Mount(bus *devices.Bus, cfgs []Config, sink EventSink, runID string) ([]*Recorder, error) {
	var recs []*Recorder
	for _, cfg := range cfgs {
		p, err := New(cfg)
		if err != nil {
			return nil, fmt.Errorf("port %d: %w", cfg.Number, err)
		}
		if sink != nil {
			r := NewRecorder(cfg.Number, p, sink, runID)
			recs = append(recs, r)
			p = r
		}
		bus.Mount(cfg.Number, p)
	}
	return recs, nil
}
