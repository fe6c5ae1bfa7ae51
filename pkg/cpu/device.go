package cpu

// Device services the OUT and IN instructions. Calls are synchronous; a
// device that talks to slow hardware must block until the value is ready.
type Device interface {
	PortOut(port, value uint64) error
	PortIn(port uint64) (uint64, error)
}

// DeviceFuncs adapts plain functions to Device. A nil func reports ErrNoDevice.
type DeviceFuncs struct {
	Out func(port, value uint64) error
	In  func(port uint64) (uint64, error)
}

func (d DeviceFuncs) PortOut(port, value uint64) error {
	if d.Out == nil {
		return ErrNoDevice
	}
	return d.Out(port, value)
}

func (d DeviceFuncs) PortIn(port uint64) (uint64, error) {
	if d.In == nil {
		return 0, ErrNoDevice
	}
	return d.In(port)
}
