package types

// Version is the canonical project version, reported by `coalesce version`
// and stamped on merge_completed notifications.
const Version = "0.3.0"
