package audit

import (
	"strconv"
	"time"
)

// The methods below adapt Logger to the engine and safety hooks. Write
// failures are dropped; callers that need them use Append.

func (l *Logger) EngineStart(target string, port uint16, protocol string, threads int, rate uint64) {
	_, _ = l.Append(EventEngineStart, "engine started", map[string]string{
		"target":   target,
		"port":     strconv.Itoa(int(port)),
		"protocol": protocol,
		"threads":  strconv.Itoa(threads),
		"rate":     strconv.FormatUint(rate, 10),
	})
}

func (l *Logger) EngineStop(packets, bytes, errors uint64, elapsed time.Duration) {
	_, _ = l.Append(EventEngineStop, "engine stopped", map[string]string{
		"packets_sent": strconv.FormatUint(packets, 10),
		"bytes_sent":   strconv.FormatUint(bytes, 10),
		"errors":       strconv.FormatUint(errors, 10),
		"duration":     elapsed.String(),
	})
}

func (l *Logger) TargetAuthorized(target, reason string) {
	_, _ = l.Append(EventTargetAuthorized, reason, map[string]string{"target": target})
}

func (l *Logger) TargetRejected(target, reason string) {
	_, _ = l.Append(EventTargetRejected, reason, map[string]string{"target": target})
}

func (l *Logger) EmergencyStop(reason string) {
	_, _ = l.Append(EventEmergencyStop, reason, nil)
}

func (l *Logger) Error(err error) {
	_, _ = l.Append(EventError, err.Error(), nil)
}
