package annot

import (
	"fmt"
)

// Store is the single source of truth for live annotation state. It is not
// goroutine-safe on its own: all mutation funnels through the owning session,
// which serializes access (one logical thread of control per open document).
type Store struct {
	byStep map[string]map[string]Annotation
	stepOf map[string]string
	subs   []func(stepID string)
}

func NewStore() *Store {
	return &Store{
		byStep: make(map[string]map[string]Annotation),
		stepOf: make(map[string]string),
	}
}

// Subscribe registers a renderer callback invoked synchronously after every
// mutation, before the mutating call returns.
func (s *Store) Subscribe(fn func(stepID string)) {
	s.subs = append(s.subs, fn)
}

func (s *Store) notify(stepID string) {
	for _, fn := range s.subs {
		fn(stepID)
	}
}

// Upsert inserts or replaces the annotation. Idempotent on identical input.
func (s *Store) Upsert(a Annotation) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if prevStep, ok := s.stepOf[a.ID]; ok && prevStep != a.StepID {
		return fmt.Errorf("annotation %s already belongs to step %s", a.ID, prevStep)
	}
	step := s.byStep[a.StepID]
	if step == nil {
		step = make(map[string]Annotation)
		s.byStep[a.StepID] = step
	}
	step[a.ID] = a
	s.stepOf[a.ID] = a.StepID
	s.notify(a.StepID)
	return nil
}

// Remove deletes the annotation by id. Removing an unknown id is a no-op.
func (s *Store) Remove(id string) {
	stepID, ok := s.stepOf[id]
	if !ok {
		return
	}
	delete(s.byStep[stepID], id)
	delete(s.stepOf, id)
	s.notify(stepID)
}

// Find returns the annotation by id.
func (s *Store) Find(id string) (Annotation, bool) {
	stepID, ok := s.stepOf[id]
	if !ok {
		return Annotation{}, false
	}
	a, ok := s.byStep[stepID][id]
	return a, ok
}

// Get returns the annotations of a step. Order is not significant.
func (s *Store) Get(stepID string) []Annotation {
	step := s.byStep[stepID]
	out := make([]Annotation, 0, len(step))
	for _, a := range step {
		out = append(out, a)
	}
	return out
}

// Promote swaps a locally-generated id for the server-issued one, preserving
// every other field. The caller is responsible for rebinding any gesture or
// selection references in the same state transition.
func (s *Store) Promote(oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	stepID, ok := s.stepOf[oldID]
	if !ok {
		return fmt.Errorf("promote: unknown annotation %s", oldID)
	}
	if _, taken := s.stepOf[newID]; taken {
		return fmt.Errorf("promote: id %s already in use", newID)
	}
	a := s.byStep[stepID][oldID]
	a.ID = newID
	delete(s.byStep[stepID], oldID)
	delete(s.stepOf, oldID)
	s.byStep[stepID][newID] = a
	s.stepOf[newID] = stepID
	s.notify(stepID)
	return nil
}

// RenameStep moves a step's annotations under a promoted step id, updating
// each annotation's StepID in place.
func (s *Store) RenameStep(oldID, newID string) {
	if oldID == newID {
		return
	}
	step, ok := s.byStep[oldID]
	if !ok {
		return
	}
	renamed := make(map[string]Annotation, len(step))
	for id, a := range step {
		a.StepID = newID
		renamed[id] = a
		s.stepOf[id] = newID
	}
	delete(s.byStep, oldID)
	s.byStep[newID] = renamed
	s.notify(newID)
}

// Replace swaps the full annotation set of a step, used when a document is
// (re)loaded from a draft snapshot.
func (s *Store) Replace(stepID string, anns []Annotation) error {
	for _, a := range anns {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	for id := range s.byStep[stepID] {
		delete(s.stepOf, id)
	}
	step := make(map[string]Annotation, len(anns))
	for _, a := range anns {
		step[a.ID] = a
		s.stepOf[a.ID] = stepID
	}
	s.byStep[stepID] = step
	s.notify(stepID)
	return nil
}
