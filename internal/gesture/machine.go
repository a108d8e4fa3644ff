// Package gesture implements the pointer/touch state machine that drives
// annotation moves and rotations and the surface's pan/zoom transform.
// There is exactly one authoritative gesture at a time; a press that would
// start a second gesture is rejected rather than corrupting the first.
package gesture

import (
	"errors"

	"github.com/NicolaiDodeac/Instant-SOP/internal/annot"
	"github.com/NicolaiDodeac/Instant-SOP/internal/geom"
)

type State int

const (
	StateIdle State = iota
	StateDragging
	StateRotating
	StatePanning
	StatePinching
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDragging:
		return "dragging"
	case StateRotating:
		return "rotating"
	case StatePanning:
		return "panning"
	case StatePinching:
		return "pinching"
	}
	return "unknown"
}

// ErrGestureActive is returned when a press tries to start a gesture while
// another one is in progress. The active gesture is left untouched.
var ErrGestureActive = errors.New("gesture already in progress")

// Pointer is a raw pointer/touch sample in untransformed surface pixels.
// The view transform is applied by the renderer, never baked into events.
type Pointer struct {
	ID int     `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// Surface carries the pixel dimensions at event time. Dimensions are re-read
// per event because device rotation can change them mid-gesture.
type Surface struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// View is the pan/zoom transform the renderer applies to the surface.
type View struct {
	OffsetX float64 `json:"offsetX"`
	OffsetY float64 `json:"offsetY"`
	Zoom    float64 `json:"zoom"`
	PivotX  float64 `json:"pivotX"`
	PivotY  float64 `json:"pivotY"`
}

const (
	hitRadiusPx    = 24.0
	handleRadiusPx = 16.0
	handleOffsetPx = 36.0
)

// Machine consumes pointer lifecycle events for one step's annotation
// surface. It is not goroutine-safe; the owning session serializes access.
type Machine struct {
	store  *annot.Store
	stepID string
	mode   annot.DisplayMode

	state    State
	activeID string
	selected string

	pointers   map[int]Pointer
	gesturePtr int

	// press-time origin for drag; every move recomputes from here so
	// repeated deltas cannot accumulate floating error
	pressX, pressY   float64
	originX, originY float64

	view                   View
	panOriginX, panOriginY float64
	pinchStartDist         float64
	pinchStartZoom         float64
}

func NewMachine(store *annot.Store, stepID string) *Machine {
	return &Machine{
		store:    store,
		stepID:   stepID,
		mode:     annot.ModeEdit,
		pointers: make(map[int]Pointer),
		view:     View{Zoom: 1},
	}
}

func (m *Machine) State() State     { return m.state }
func (m *Machine) Selected() string { return m.selected }
func (m *Machine) Active() string   { return m.activeID }
func (m *Machine) View() View       { return m.view }
func (m *Machine) StepID() string   { return m.stepID }

// SetMode switches the capability gate. Entering a non-edit mode aborts any
// mutating gesture in flight; pan and pinch survive.
func (m *Machine) SetMode(mode annot.DisplayMode) {
	m.mode = mode
	if !mode.CanMutate() && (m.state == StateDragging || m.state == StateRotating) {
		m.state = StateIdle
		m.activeID = ""
	}
}

// SetStep points the machine at a different step, aborting any gesture and
// clearing the selection.
func (m *Machine) SetStep(stepID string) {
	m.stepID = stepID
	m.CancelCapture()
	m.selected = ""
}

// RebindStep follows a step id promotion without aborting the gesture.
func (m *Machine) RebindStep(oldID, newID string) {
	if m.stepID == oldID {
		m.stepID = newID
	}
}

// Rebind swaps a promoted annotation id in the selection and any in-flight
// gesture, so promotion never leaves a dangling local id here.
func (m *Machine) Rebind(oldID, newID string) {
	if m.activeID == oldID {
		m.activeID = newID
	}
	if m.selected == oldID {
		m.selected = newID
	}
}

// PointerDown begins or promotes a gesture.
func (m *Machine) PointerDown(p Pointer, surf Surface) error {
	m.pointers[p.ID] = p

	if len(m.pointers) == 2 && m.state == StatePanning {
		return m.beginPinch()
	}
	if m.state != StateIdle {
		return ErrGestureActive
	}
	if len(m.pointers) > 1 {
		// stray extra touch while idle; ignore it
		return nil
	}

	if id, ok := m.hitRotateHandle(p, surf); ok && m.mode.CanMutate() {
		m.state = StateRotating
		m.activeID = id
		m.gesturePtr = p.ID
		return nil
	}

	if id, ok := m.hitAnnotation(p, surf); ok {
		m.selected = id
		if !m.mode.CanMutate() {
			m.beginPan(p)
			return nil
		}
		a, found := m.store.Find(id)
		if !found {
			return nil
		}
		m.state = StateDragging
		m.activeID = id
		m.gesturePtr = p.ID
		m.pressX, m.pressY = p.X, p.Y
		m.originX, m.originY = a.X, a.Y
		return nil
	}

	// empty canvas: deselect and pan
	m.selected = ""
	m.beginPan(p)
	return nil
}

// PointerMove advances the active gesture. Surface dimensions come from the
// event, never from cached state.
func (m *Machine) PointerMove(p Pointer, surf Surface) error {
	if _, tracked := m.pointers[p.ID]; !tracked {
		return nil
	}
	m.pointers[p.ID] = p

	// single-pointer gestures follow their initiating pointer only
	if m.state == StateDragging || m.state == StateRotating || m.state == StatePanning {
		if p.ID != m.gesturePtr {
			return nil
		}
	}

	switch m.state {
	case StateDragging:
		a, ok := m.store.Find(m.activeID)
		if !ok {
			// annotation deleted mid-gesture: abort without mutation
			m.abort()
			return nil
		}
		dx, dy := geom.ToNormalized(p.X-m.pressX, p.Y-m.pressY, surf.W, surf.H)
		a.X = geom.Clamp01(m.originX + dx)
		a.Y = geom.Clamp01(m.originY + dy)
		return m.store.Upsert(a)

	case StateRotating:
		a, ok := m.store.Find(m.activeID)
		if !ok {
			m.abort()
			return nil
		}
		cx, cy := geom.ToPixel(a.X, a.Y, surf.W, surf.H)
		a.AngleDeg = geom.AngleDeg(cx, cy, p.X, p.Y)
		return m.store.Upsert(a)

	case StatePanning:
		m.view.OffsetX = m.panOriginX + (p.X - m.pressX)
		m.view.OffsetY = m.panOriginY + (p.Y - m.pressY)
		return nil

	case StatePinching:
		first, second, ok := m.twoPointers()
		if !ok {
			return nil
		}
		dist := geom.Dist(first.X, first.Y, second.X, second.Y)
		if m.pinchStartDist > 0 {
			m.view.Zoom = geom.ClampZoom(m.pinchStartZoom * dist / m.pinchStartDist)
		}
		return nil
	}
	return nil
}

// PointerUp releases a pointer. When the last pointer lifts the machine
// returns to Idle; the selection persists.
func (m *Machine) PointerUp(p Pointer) {
	delete(m.pointers, p.ID)
	if len(m.pointers) == 0 {
		m.state = StateIdle
		m.activeID = ""
		return
	}
	if m.state == StatePinching {
		// one finger left: the pinch is over, a fresh press starts a pan
		m.state = StateIdle
		m.activeID = ""
		return
	}
	// the initiating pointer lifted while a stray touch remains
	if p.ID == m.gesturePtr {
		m.state = StateIdle
		m.activeID = ""
	}
}

// CancelCapture handles lost pointer capture (surface removed from view):
// revert to Idle with no partial mutation.
func (m *Machine) CancelCapture() {
	m.pointers = make(map[int]Pointer)
	m.state = StateIdle
	m.activeID = ""
}

// DoubleTap resets pan and zoom to the identity transform. Legal in any
// state; it never touches annotation state.
func (m *Machine) DoubleTap() {
	m.view = View{Zoom: 1}
}

func (m *Machine) beginPan(p Pointer) {
	m.state = StatePanning
	m.gesturePtr = p.ID
	m.pressX, m.pressY = p.X, p.Y
	m.panOriginX, m.panOriginY = m.view.OffsetX, m.view.OffsetY
}

func (m *Machine) beginPinch() error {
	first, second, ok := m.twoPointers()
	if !ok {
		return nil
	}
	m.state = StatePinching
	m.activeID = ""
	m.pinchStartDist = geom.Dist(first.X, first.Y, second.X, second.Y)
	m.pinchStartZoom = m.view.Zoom
	m.view.PivotX = (first.X + second.X) / 2
	m.view.PivotY = (first.Y + second.Y) / 2
	return nil
}

func (m *Machine) abort() {
	m.state = StateIdle
	m.activeID = ""
}

func (m *Machine) twoPointers() (Pointer, Pointer, bool) {
	if len(m.pointers) < 2 {
		return Pointer{}, Pointer{}, false
	}
	got := make([]Pointer, 0, 2)
	for _, p := range m.pointers {
		got = append(got, p)
		if len(got) == 2 {
			break
		}
	}
	return got[0], got[1], true
}

// hitAnnotation returns the closest annotation whose center is within the
// press radius of p.
func (m *Machine) hitAnnotation(p Pointer, surf Surface) (string, bool) {
	bestID := ""
	bestDist := hitRadiusPx
	for _, a := range m.store.Get(m.stepID) {
		cx, cy := geom.ToPixel(a.X, a.Y, surf.W, surf.H)
		d := geom.Dist(cx, cy, p.X, p.Y)
		if d <= bestDist {
			bestDist = d
			bestID = a.ID
		}
	}
	return bestID, bestID != ""
}

// hitRotateHandle tests the rotate handle of the selected arrow. The handle
// sits past the arrow tip, along its current angle.
func (m *Machine) hitRotateHandle(p Pointer, surf Surface) (string, bool) {
	if m.selected == "" {
		return "", false
	}
	a, ok := m.store.Find(m.selected)
	if !ok || a.Kind != annot.KindArrow {
		return "", false
	}
	cx, cy := geom.ToPixel(a.X, a.Y, surf.W, surf.H)
	hx, hy := geom.HandlePoint(cx, cy, a.AngleDeg, handleOffsetPx)
	if geom.Dist(hx, hy, p.X, p.Y) <= handleRadiusPx {
		return a.ID, true
	}
	return "", false
}
