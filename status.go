package menusync

import "time"

// State is the aggregate connection state across all watched resources.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
	StateDisconnected State = "disconnected"
)

// Quality is the coarse connection-health tier derived from probe latency.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityPoor      Quality = "poor"
	QualityOffline   Quality = "offline"
)

// Latency thresholds for the quality tiers.
const (
	excellentLatencyMs = 500
	goodLatencyMs      = 1000
)

// QualityFor derives the quality tier from the connection state and the most
// recent probe latency. It is a pure function: offline when not connected,
// and poor when connected but the latest probe failed (nil latency).
func QualityFor(state State, latencyMs *int64) Quality {
	if state != StateConnected {
		return QualityOffline
	}
	if latencyMs == nil {
		return QualityPoor
	}
	switch {
	case *latencyMs <= excellentLatencyMs:
		return QualityExcellent
	case *latencyMs <= goodLatencyMs:
		return QualityGood
	default:
		return QualityPoor
	}
}

// ConnectionStatus is a point-in-time snapshot of the aggregate connection.
// LastConnectedAt and LatencyMs are nil until first observed.
type ConnectionStatus struct {
	State           State
	LastConnectedAt *time.Time
	RetryCount      int
	LatencyMs       *int64
	Err             string
	Quality         Quality
}

// Connected reports whether the aggregate state counts as connected for
// display purposes. Partial connectivity (any resource subscribed) already
// puts the manager in StateConnected.
func (s ConnectionStatus) Connected() bool {
	return s.State == StateConnected
}
