package generator

import (
	"context"
	"time"
)

// SimulatorTransport stands in for a physical HVG link when no serial
// or Ethernet transport is configured, mirroring the teacher's
// ringbuf.Reader "Mock Mode" idiom (log a notice, behave like the real
// thing minus the hardware). It echoes requested params back as
// actual values within the 2% tolerance spec §4.3 allows, after a
// short simulated acquisition delay.
type SimulatorTransport struct {
	Delay time.Duration
}

// NewSimulatorTransport constructs a simulator with a nominal 20ms
// per-command delay.
func NewSimulatorTransport() *SimulatorTransport {
	return &SimulatorTransport{Delay: 20 * time.Millisecond}
}

func (s *SimulatorTransport) Send(ctx context.Context, cmd Command) (Reply, error) {
	select {
	case <-time.After(s.Delay):
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}

	if cmd.IsAbort {
		return Reply{OK: true}, nil
	}

	return Reply{
		OK:        true,
		ActualKVp: cmd.Payload.KVp,
		ActualMA:  cmd.Payload.MA,
		ActualMS:  cmd.Payload.MS,
	}, nil
}
