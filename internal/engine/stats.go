package engine

import "time"

// Stats is a point-in-time view of the counters. Rates are averages over
// the whole run.
type Stats struct {
	PacketsSent uint64        `json:"packets_sent"`
	BytesSent   uint64        `json:"bytes_sent"`
	Errors      uint64        `json:"errors"`
	Duration    time.Duration `json:"duration"`
	PPS         uint64        `json:"pps"`
	BPS         uint64        `json:"bps"`
}

// State is the engine lifecycle phase.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

func snapshot(packets, bytes, errs uint64, elapsed time.Duration) Stats {
	secs := max(elapsed.Seconds(), 0.001)
	return Stats{
		PacketsSent: packets,
		BytesSent:   bytes,
		Errors:      errs,
		Duration:    elapsed,
		PPS:         uint64(float64(packets) / secs),
		BPS:         uint64(float64(bytes) / secs),
	}
}
