package settings

// DB config keys and defaults for runtime-tunable gateway behavior.
const (
	// FailureLogRetentionDaysKey controls how long failure logs are kept.
	FailureLogRetentionDaysKey = "FAILURE_LOG_RETENTION_DAYS"
	// LowConfidenceThresholdKey sets the score below which selections carry a warning.
	LowConfidenceThresholdKey = "LOW_CONFIDENCE_THRESHOLD"
	// MaintenanceEnabledKey toggles the in-process maintenance scheduler.
	MaintenanceEnabledKey = "MAINTENANCE_ENABLED"
	// DefaultFailureLogRetentionDays is the fallback retention window (days).
	DefaultFailureLogRetentionDays = 7
	// DefaultLowConfidenceThreshold is the fallback low-confidence threshold.
	DefaultLowConfidenceThreshold = 0.3
	// DefaultMaintenanceEnabled sets the scheduler default.
	DefaultMaintenanceEnabled = true
)
