package collab

import (
	"time"

	"collabdoc/backend/internal/ot/delta"
)

const EventOpApplied = "OP_APPLIED"

// DocOpEvent is published for every op a room applies, keyed by document id
// so one document's events stay on one partition.
type DocOpEvent struct {
	EventType    string      `json:"eventType"`
	DocID        string      `json:"docId"`
	OperationID  string      `json:"operationId"`
	Revision     int         `json:"revision"`
	BaseRevision int         `json:"baseRevision"`
	AuthorID     string      `json:"authorId"`
	AuthorName   string      `json:"authorName,omitempty"`
	Pos          int         `json:"pos"`
	Del          int         `json:"del"`
	Ins          string      `json:"ins"`
	Ops          delta.Delta `json:"ops"`
	AppliedAt    time.Time   `json:"appliedAt"`
}
