// Package shared holds the types exchanged between the store, its HTTP
// adapter and the client.
package shared

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Origin records why a revision was created.
type Origin string

const (
	OriginWrite  Origin = "write"
	OriginRevert Origin = "revert"
	OriginImport Origin = "import"
)

// ChangeKind classifies a pending change.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// File is the current content pointer of a path.
type File struct {
	Path       string    `json:"path"`
	Hash       string    `json:"hash"`
	Size       int64     `json:"size"`
	RevisionID string    `json:"revision_id,omitempty"` // empty until first commit
	ModifiedAt time.Time `json:"modified_at"`
}

// Revision is an immutable snapshot of one path. Deleted marks a
// committed deletion; such revisions carry no content.
type Revision struct {
	Path      string    `json:"path"`
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Hash      string    `json:"hash,omitempty"`
	Size      int64     `json:"size"`
	Deleted   bool      `json:"deleted,omitempty"`
	Origin    Origin    `json:"origin"`
	CreatedAt time.Time `json:"created_at"`
}

type PendingChange struct {
	Path          string     `json:"path"`
	Kind          ChangeKind `json:"kind"`
	SinceRevision string     `json:"since_revision,omitempty"`
}

func RevisionID(seq uint64) string {
	return "r" + strconv.FormatUint(seq, 10)
}

// ParseRevisionID returns the sequence number encoded in id. Only the
// canonical form produced by RevisionID is accepted, so "r01" is malformed.
func ParseRevisionID(id string) (uint64, error) {
	digits, ok := strings.CutPrefix(id, "r")
	if !ok || digits == "" {
		return 0, fmt.Errorf("malformed revision id %q", id)
	}
	seq, err := strconv.ParseUint(digits, 10, 64)
	if err != nil || seq == 0 || RevisionID(seq) != id {
		return 0, fmt.Errorf("malformed revision id %q", id)
	}
	return seq, nil
}
