package session

import (
	"context"
	"log/slog"
	"slices"
	"sort"

	"github.com/wem-technology/ios-webxr-sub000/internal/metrics"
	"github.com/wem-technology/ios-webxr-sub000/internal/space"
	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
	"github.com/wem-technology/ios-webxr-sub000/internal/xrerr"
)

// AnchorStore is durable storage for persistent anchors: a map from id to
// the anchor's global offset. It is read in full at session start and
// rewritten in full on every change.
type AnchorStore interface {
	LoadAnchors(ctx context.Context) (map[string]xmath.Mat4, error)
	SaveAnchors(ctx context.Context, anchors map[string]xmath.Mat4) error
}

// Pending is a result settled by a later tick.
type Pending[T any] struct {
	settled bool
	value   T
	err     error
	then    []func(T, error)
}

func newPending[T any]() *Pending[T] { return &Pending[T]{} }

// Settled reports whether the result is available.
func (p *Pending[T]) Settled() bool { return p.settled }

// Result returns the value or error. Both are zero until settled.
func (p *Pending[T]) Result() (T, error) { return p.value, p.err }

// Then calls fn when the result settles, immediately if it already has.
func (p *Pending[T]) Then(fn func(T, error)) {
	if p.settled {
		fn(p.value, p.err)
		return
	}
	p.then = append(p.then, fn)
}

func (p *Pending[T]) settle(v T, err error) {
	if p.settled {
		return
	}
	p.settled, p.value, p.err = true, v, err
	for _, fn := range p.then {
		fn(v, err)
	}
	p.then = nil
}

// Anchor is a tracked pose under the global root.
type Anchor struct {
	session      *Session
	space        space.Space
	deleted      bool
	persistentID string
	restoring    bool
	created      *Pending[*Anchor]
}

func (a *Anchor) Deleted() bool        { return a.deleted }
func (a *Anchor) PersistentID() string { return a.persistentID }

// Space returns the anchor's space, or the zero Space once deleted.
func (a *Anchor) Space() space.Space {
	if a.deleted {
		return space.Space{}
	}
	return a.space
}

// Delete stops tracking. The anchor leaves the tracked set at the next tick.
// Deletion is terminal.
func (a *Anchor) Delete() { a.deleted = true }

// settle rejects the anchor's pending creation with err, if still pending.
func (a *Anchor) settle(err error) {
	if a.restoring {
		delete(a.session.restoring, a.persistentID)
		a.restoring = false
	}
	if a.created != nil {
		a.created.settle(nil, err)
	}
}

// RequestPersistentHandle assigns the anchor a stable id, stores its current
// global offset and returns the id. Calling it again returns the same id.
func (a *Anchor) RequestPersistentHandle(ctx context.Context) (string, error) {
	const op = "anchor.requestPersistentHandle"
	s := a.session
	if a.deleted {
		return "", xrerr.New(xrerr.InvalidState, op, "anchor has been deleted")
	}
	if s.state == Ended {
		return "", xrerr.New(xrerr.InvalidState, op, "session has ended")
	}
	if s.store == nil {
		return "", xrerr.New(xrerr.NotSupported, op, "no anchor store configured")
	}
	if a.persistentID != "" {
		return a.persistentID, nil
	}
	id := s.ids.Generate()
	s.persistent[id] = a.space.Global()
	if err := s.store.SaveAnchors(ctx, s.persistent); err != nil {
		delete(s.persistent, id)
		return "", xrerr.Wrap(xrerr.TransientIO, op, err)
	}
	a.persistentID = id
	slog.Info("anchor persisted", "session_id", s.id, "anchor_id", id)
	return id, nil
}

// CreateAnchor creates an anchor at pose expressed in rel. The result settles
// at the next tick: resolved if the anchor is still tracked, rejected if it
// was deleted first.
func (f *Frame) CreateAnchor(pose xmath.Transform, rel space.Space) (*Pending[*Anchor], error) {
	const op = "frame.createAnchor"
	if err := f.check(op); err != nil {
		return nil, err
	}
	s := f.session
	if !s.Has(FeatureAnchors) {
		return nil, xrerr.New(xrerr.NotSupported, op, "anchors feature was not enabled")
	}
	if !rel.Valid() {
		return nil, xrerr.New(xrerr.InvalidState, op, "relative space has been removed")
	}
	global := xmath.Compose(rel.Global(), pose.Matrix())
	a, err := s.newAnchor(global)
	if err != nil {
		return nil, err
	}
	return a.created, nil
}

func (s *Session) newAnchor(global xmath.Mat4) (*Anchor, error) {
	g := s.device.Graph()
	sp, err := g.Create(g.Root(), global)
	if err != nil {
		return nil, err
	}
	a := &Anchor{session: s, space: sp, created: newPending[*Anchor]()}
	s.anchors = append(s.anchors, a)
	return a, nil
}

// updateAnchors drops deleted anchors, rejecting their pending creation, and
// copies the rest into the frame's tracked set, resolving pending creations.
func (s *Session) updateAnchors(f *Frame) {
	kept := s.anchors[:0]
	for _, a := range s.anchors {
		if a.deleted {
			a.settle(xrerr.New(xrerr.InvalidState, "anchor.update", "anchor was deleted before it was tracked"))
			if err := s.device.Graph().Remove(a.space); err != nil {
				slog.Debug("anchor space kept", "session_id", s.id, "error", err)
			}
			continue
		}
		f.anchors = append(f.anchors, a)
		if a.restoring {
			delete(s.restoring, a.persistentID)
			a.restoring = false
		}
		a.created.settle(a, nil)
		kept = append(kept, a)
	}
	clear(s.anchors[len(kept):])
	s.anchors = kept
	metrics.AnchorsTracked.Set(float64(len(kept)))
}

// TrackedAnchors returns the anchors tracked in this frame.
func (f *Frame) TrackedAnchors() ([]*Anchor, error) {
	if err := f.check("frame.trackedAnchors"); err != nil {
		return nil, err
	}
	return slices.Clone(f.anchors), nil
}

// PersistentAnchors returns the stored anchor ids in sorted order.
func (s *Session) PersistentAnchors() []string {
	ids := make([]string, 0, len(s.persistent))
	for id := range s.persistent {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RestorePersistentAnchor recreates a stored anchor. The result settles at
// the next tick. Fails InvalidState for an unknown id, an ended session, or
// while a restore of the same id is in flight.
func (s *Session) RestorePersistentAnchor(id string) (*Pending[*Anchor], error) {
	const op = "session.restorePersistentAnchor"
	if s.state == Ended {
		return nil, xrerr.New(xrerr.InvalidState, op, "session has ended")
	}
	if !s.Has(FeatureAnchors) {
		return nil, xrerr.New(xrerr.NotSupported, op, "anchors feature was not enabled")
	}
	m, ok := s.persistent[id]
	if !ok {
		return nil, xrerr.New(xrerr.InvalidState, op, "unknown persistent anchor "+id)
	}
	if s.restoring[id] {
		return nil, xrerr.New(xrerr.InvalidState, op, "restore already in progress for "+id)
	}
	a, err := s.newAnchor(m)
	if err != nil {
		return nil, err
	}
	a.persistentID = id
	a.restoring = true
	s.restoring[id] = true
	return a.created, nil
}

// DeletePersistentAnchor forgets a stored anchor and deletes any live anchor
// restored from it.
func (s *Session) DeletePersistentAnchor(ctx context.Context, id string) error {
	const op = "session.deletePersistentAnchor"
	if s.state == Ended {
		return xrerr.New(xrerr.InvalidState, op, "session has ended")
	}
	m, ok := s.persistent[id]
	if !ok {
		return xrerr.New(xrerr.InvalidState, op, "unknown persistent anchor "+id)
	}
	delete(s.persistent, id)
	if s.store != nil {
		if err := s.store.SaveAnchors(ctx, s.persistent); err != nil {
			s.persistent[id] = m
			return xrerr.Wrap(xrerr.TransientIO, op, err)
		}
	}
	for _, a := range s.anchors {
		if a.persistentID == id {
			a.deleted = true
		}
	}
	slog.Info("persistent anchor deleted", "session_id", s.id, "anchor_id", id)
	return nil
}
