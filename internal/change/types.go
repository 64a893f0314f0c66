// internal/change/types.go
package change

import (
	"botvault/internal/content"
	"botvault/internal/revision"
)

// Tracker derives pending changes by comparing the file store with the
// revision log. It keeps no state of its own.
type Tracker struct {
	files     *content.FileStore
	revisions *revision.Log
}

func NewTracker(files *content.FileStore, revisions *revision.Log) *Tracker {
	return &Tracker{
		files:     files,
		revisions: revisions,
	}
}
