package ir

// Version constants for the definition schema and engine.
const (
	// SchemaVersion is the action definition schema version.
	SchemaVersion = "1"

	// EngineVersion is the action engine version.
	EngineVersion = "0.3.0"
)
