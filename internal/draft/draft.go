// Package draft provides the on-device persistence layer: full document
// snapshots usable without network access, and captured video blobs awaiting
// upload.
package draft

import (
	"time"

	"github.com/NicolaiDodeac/Instant-SOP/internal/annot"
)

// Step is one ordered unit of a procedure, denormalized with its
// annotations so a draft is self-contained.
type Step struct {
	ID           string             `json:"id"`
	SopID        string             `json:"sopId"`
	Idx          int                `json:"idx"`
	Title        string             `json:"title"`
	Instructions string             `json:"instructions"`
	VideoPath    string             `json:"videoPath,omitempty"`
	DurationMs   int64              `json:"durationMs,omitempty"`
	Annotations  []annot.Annotation `json:"annotations"`
}

// Document is a fully self-contained snapshot of one SOP.
type Document struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Steps       []Step    `json:"steps"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// PendingUpload is a captured video blob not yet confirmed durably stored
// remotely. Revision increments every time the step's blob is replaced, so
// an upload that finishes after its blob was superseded can be discarded.
type PendingUpload struct {
	StepID      string `json:"stepId"`
	SopID       string `json:"sopId"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"-"`
	Revision    int64  `json:"revision"`
	Uploaded    bool   `json:"uploaded"`
}
