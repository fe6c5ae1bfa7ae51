package peripherals

import (
	"sync"
	"time"

	"wirebus/pkg/devices"
)

type Direction string

const (
	DirectionOut Direction = "out"
	DirectionIn  Direction = "in"
)

// Event is one port access made by a script.
type Event struct {
	RunID     string    `json:"run_id"`
	Port      uint64    `json:"port"`
	Direction Direction `json:"direction"`
	Value     uint64    `json:"value"`
	At        time.Time `json:"at"`
}

type EventSink interface {
	RecordEvent(e Event) error
}

// EventLog is an in-memory EventSink.
type EventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *EventLog) RecordEvent(e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// Recorder wraps a port and reports every successful access to a sink. A
// sink error fails the access, which faults the script.
type Recorder struct {
	devices.Port
	port  uint64
	sink  EventSink
	mu    sync.Mutex
	runID string
	now   func() time.Time
}

func NewRecorder(port uint64, inner devices.Port, sink EventSink, runID string) *Recorder {
	return &Recorder{
		Port:  inner,
		port:  port,
		sink:  sink,
		runID: runID,
		now:   time.Now,
	}
}

// SetRunID tags subsequent events with id.
func (r *Recorder) SetRunID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runID = id
}

func (r *Recorder) Out(value uint64) error {
	if err := r.Port.Out(value); err != nil {
		return err
	}
	return r.record(DirectionOut, value)
}

func (r *Recorder) In() (uint64, error) {
	v, err := r.Port.In()
	if err != nil {
		return 0, err
	}
	return v, r.record(DirectionIn, v)
}

// Value forwards to the wrapped port when it exposes one.
func (r *Recorder) Value() uint64 {
	if v, ok := r.Port.(devices.Valuer); ok {
		return v.Value()
	}
	return 0
}

// Unwrap returns the recorded port.
func (r *Recorder) Unwrap() devices.Port { return r.Port }

func (r *Recorder) record(dir Direction, value uint64) error {
	r.mu.Lock()
	id := r.runID
	r.mu.Unlock()
	return r.sink.RecordEvent(Event{
		RunID:     id,
		Port:      r.port,
		Direction: dir,
		Value:     value,
		At:        r.now().UTC(),
	})
}
