package ir

// Version constants for the ledger schema and engine.
const (
	// IRVersion is the record schema version.
	IRVersion = "1"

	// EngineVersion is the choreo engine version.
	EngineVersion = "0.2.0"
)
