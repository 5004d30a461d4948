package model

import "github.com/oklog/ulid/v2"

// NewID returns a ULID identifying a case instance and its persisted
// result. ULIDs sort lexicographically by creation time, which keeps
// result listings stable across runs.
func NewID() string {
	return ulid.Make().String()
}
