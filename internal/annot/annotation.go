// Package annot holds the in-memory annotation state for the currently open
// document: the annotation model, the per-step store renderers subscribe to,
// and the playback-time visibility filter.
package annot

import (
	"fmt"
	"net/http"
	"strings"
)

type Kind string

const (
	KindArrow Kind = "arrow"
	KindLabel Kind = "label"
)

type ArrowStyle struct {
	Color       string  `json:"color"`
	StrokeWidth float64 `json:"strokeWidth"`
}

type LabelStyle struct {
	Color    string  `json:"color"`
	FontSize float64 `json:"fontSize"`
}

// Annotation is a time-bounded marker positioned in the unit square.
// X and Y are normalized, never pixels. Exactly one of Arrow/Label is set,
// matching Kind.
type Annotation struct {
	ID       string      `json:"id"`
	StepID   string      `json:"stepId"`
	Kind     Kind        `json:"kind"`
	X        float64     `json:"x"`
	Y        float64     `json:"y"`
	AngleDeg float64     `json:"angleDeg,omitempty"`
	Text     string      `json:"text,omitempty"`
	StartMs  int64       `json:"tStartMs"`
	EndMs    int64       `json:"tEndMs"`
	Arrow    *ArrowStyle `json:"arrowStyle,omitempty"`
	Label    *LabelStyle `json:"labelStyle,omitempty"`
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) HTTPStatus() int { return http.StatusUnprocessableEntity }

func (a Annotation) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return &ValidationError{Field: "id", Message: "id is required"}
	}
	if strings.TrimSpace(a.StepID) == "" {
		return &ValidationError{Field: "stepId", Message: "stepId is required"}
	}
	switch a.Kind {
	case KindArrow:
		if a.Label != nil {
			return &ValidationError{Field: "labelStyle", Message: "arrow annotations cannot carry a label style"}
		}
	case KindLabel:
		if a.Arrow != nil {
			return &ValidationError{Field: "arrowStyle", Message: "label annotations cannot carry an arrow style"}
		}
	default:
		return &ValidationError{Field: "kind", Message: "kind must be arrow or label"}
	}
	if a.X < 0 || a.X > 1 || a.Y < 0 || a.Y > 1 {
		return &ValidationError{Field: "position", Message: "x and y must be normalized to [0,1]"}
	}
	if a.StartMs > a.EndMs {
		return &ValidationError{Field: "tStartMs", Message: "tStartMs must not exceed tEndMs"}
	}
	return nil
}
