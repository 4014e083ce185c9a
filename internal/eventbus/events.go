package eventbus

// Event types published by crontrol components. Data payloads are noted per constant.
const (
	// SettingChanged carries a settings.Change.
	SettingChanged = "settings.changed"
	// SweepFinished carries a reschedule.Report.
	SweepFinished = "reschedule.sweep"
	// CarryoverFinished carries a reschedule.Report.
	CarryoverFinished = "reschedule.carryover"
	// JobFired carries a scheduler.Fired.
	JobFired = "scheduler.fired"
	// ConfigReloaded carries the list of changed config sections.
	ConfigReloaded = "config.reloaded"
)
