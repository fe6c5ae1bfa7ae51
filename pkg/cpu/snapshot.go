package cpu

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"wirebus/pkg/isa"
)

var snapshotEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cpu: failed to create CBOR enc mode: %v", err))
	}
	snapshotEncMode = em
}

// snapshot is the serialisable machine state. The device is not part of it;
// Restore takes a fresh one through its options.
type snapshot struct {
	Width  int      `cbor:"width"`
	Image  []uint64 `cbor:"image"`
	Memory []uint64 `cbor:"memory"`
	Stack  []uint64 `cbor:"stack"`
	Depth  int      `cbor:"depth"`
	IP     int      `cbor:"ip"`
	Done   bool     `cbor:"done"`
	Result uint64   `cbor:"result"`
	Steps  int      `cbor:"steps"`
	RunID  string   `cbor:"run_id"`
}

// Snapshot serialises the machine state to canonical CBOR.
func (c *CPU) Snapshot() ([]byte, error) {
	s := snapshot{
		Width:  int(c.width),
		Image:  c.image,
		Memory: c.Memory,
		Stack:  c.Stack.Values(),
		Depth:  c.Stack.depth,
		IP:     c.IP,
		Done:   c.Done,
		Result: c.result,
		Steps:  c.Steps,
		RunID:  c.runID,
	}
	data, err := snapshotEncMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("cpu: marshal snapshot: %w", err)
	}
	return data, nil
}

// Restore rebuilds a machine from Snapshot output. opts are applied after
// the saved width, stack depth and run id, so they can attach a device or
// logger.
func Restore(data []byte, opts ...Option) (*CPU, error) {
	var s snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("cpu: unmarshal snapshot: %w", err)
	}
	w := isa.Width(s.Width)
	if !w.Valid() {
		return nil, fmt.Errorf("cpu: snapshot has invalid width %d", s.Width)
	}

	base := []Option{WithWidth(w), WithStackDepth(s.Depth), WithRunID(s.RunID)}
	c := NewCPU(s.Image, append(base, opts...)...)
	c.Memory = append(c.Memory[:0], s.Memory...)
	for _, v := range s.Stack {
		if err := c.Stack.Push(v); err != nil {
			return nil, fmt.Errorf("cpu: restore stack: %w", err)
		}
	}
	c.IP = s.IP
	c.Done = s.Done
	c.result = s.Result
	c.Steps = s.Steps
	return c, nil
}
