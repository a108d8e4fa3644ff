package annot

import "strings"

// DisplayMode governs which time-filtering and gesture behavior is active.
// Edit shows every annotation regardless of playback time; Playback and
// Public filter to the in-range subset. Public additionally disables
// mutating gestures (enforced by the gesture machine, not here).
type DisplayMode int

const (
	ModeEdit DisplayMode = iota
	ModePlayback
	ModePublic
)

func (m DisplayMode) String() string {
	switch m {
	case ModeEdit:
		return "edit"
	case ModePlayback:
		return "playback"
	case ModePublic:
		return "public"
	}
	return "unknown"
}

// ParseDisplayMode maps the wire form back to a mode. Unknown values fall
// back to the most restrictive mode so a bad flag never leaks markers.
func ParseDisplayMode(s string) DisplayMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "edit":
		return ModeEdit
	case "playback":
		return ModePlayback
	default:
		return ModePublic
	}
}

// CanMutate reports whether annotation-mutating gestures are allowed.
func (m DisplayMode) CanMutate() bool { return m == ModeEdit }

// Visible returns the subset of anns visible at playback instant atMs.
// Boundaries are inclusive on both ends.
func Visible(anns []Annotation, mode DisplayMode, atMs int64) []Annotation {
	if mode == ModeEdit {
		out := make([]Annotation, len(anns))
		copy(out, anns)
		return out
	}
	out := make([]Annotation, 0, len(anns))
	for _, a := range anns {
		if a.StartMs <= atMs && atMs <= a.EndMs {
			out = append(out, a)
		}
	}
	return out
}
