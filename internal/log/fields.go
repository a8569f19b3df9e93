package log

// Common field names for structured logging.
const (
	FieldComponent = "component"
	FieldError     = "error"
	FieldDate      = "date"
	FieldSession   = "session_id"
	FieldMinutes   = "worked_minutes"
	FieldIncome    = "income"
	FieldProvider  = "provider"
	FieldInterval  = "interval"
	FieldQueueLen  = "queue_len"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status_code"
	FieldDuration  = "duration_ms"
)

// Standard component names.
const (
	ComponentApp      = "app"
	ComponentEngine   = "engine"
	ComponentSyncer   = "syncer"
	ComponentStorage  = "storage"
	ComponentSettings = "settings"
	ComponentEvents   = "events"
	ComponentHTTP     = "http"
	ComponentProvider = "provider"
)
