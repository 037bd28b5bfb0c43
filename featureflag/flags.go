package featureflag

type Flag string

const (
	// Moved objects are re-inserted in the spatial index right away instead
	// of waiting for the frame maintenance pass.
	FlagDisableDeferredReindex Flag = "DISABLE_DEFERRED_REINDEX"

	// Scenes do not run the frame maintenance pass. Moved objects stay in
	// the moving set and are found by scanning.
	FlagDisableFrameMaintenance Flag = "DISABLE_FRAME_MAINTENANCE"

	// Websocket clients cannot subscribe to candidate updates.
	FlagDisableCandidateStream Flag = "DISABLE_CANDIDATE_STREAM"
)
