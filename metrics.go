package menusync

// MetricsCollector provides hooks for collecting subsystem metrics
type MetricsCollector interface {
	// RecordEvent records one classified change-feed event
	RecordEvent(resource string, kind string)

	// RecordReconnectAttempt records a scheduled reconnection attempt
	RecordReconnectAttempt(resource string, retryCount int)

	// RecordRetriesExhausted records entry into the terminal error state
	RecordRetriesExhausted()

	// RecordProbe records a health probe outcome; latencyMs is meaningful
	// only when ok is true
	RecordProbe(latencyMs int64, ok bool)

	// RecordConflictFlagged records a record being flagged as conflicted
	RecordConflictFlagged(itemID string)

	// RecordConflictResolved records an explicit conflict resolution
	RecordConflictResolved(itemID string)
}

// NoOpMetricsCollector is a default implementation that does nothing
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordEvent(resource string, kind string)             {}
func (n *NoOpMetricsCollector) RecordReconnectAttempt(resource string, retries int)  {}
func (n *NoOpMetricsCollector) RecordRetriesExhausted()                              {}
func (n *NoOpMetricsCollector) RecordProbe(latencyMs int64, ok bool)                 {}
func (n *NoOpMetricsCollector) RecordConflictFlagged(itemID string)                  {}
func (n *NoOpMetricsCollector) RecordConflictResolved(itemID string)                 {}
