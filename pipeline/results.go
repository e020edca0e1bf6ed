package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/Tutortoise/facial-attribute-service/models"
)

// Result is one classification snapshot. Attributes is never mutated after
// the snapshot is published.
type Result struct {
	Attributes  models.Attributes
	FrameWidth  int
	FrameHeight int
	Version     uint64
	UpdatedAt   time.Time

	epoch uint64
}

// ResultStore keeps the latest Result behind an atomic pointer.
//
// Clear starts a new epoch. Replace only lands if no Clear happened since the
// caller read Epoch, so an inference that was in flight across a toggle or a
// teardown cannot bring stale attributes back.
type ResultStore struct {
	current atomic.Pointer[Result]
}

func NewResultStore() *ResultStore {
	s := &ResultStore{}
	s.current.Store(&Result{})
	return s
}

func (s *ResultStore) Epoch() uint64 {
	return s.current.Load().epoch
}

func (s *ResultStore) Replace(attributes models.Attributes, width, height int, epoch uint64) bool {
	for {
		old := s.current.Load()
		if old.epoch != epoch {
			return false
		}
		next := &Result{
			Attributes:  attributes,
			FrameWidth:  width,
			FrameHeight: height,
			Version:     old.Version + 1,
			UpdatedAt:   time.Now(),
			epoch:       epoch,
		}
		if s.current.CompareAndSwap(old, next) {
			return true
		}
	}
}

func (s *ResultStore) Clear() {
	for {
		old := s.current.Load()
		next := &Result{
			FrameWidth:  old.FrameWidth,
			FrameHeight: old.FrameHeight,
			Version:     old.Version + 1,
			UpdatedAt:   time.Now(),
			epoch:       old.epoch + 1,
		}
		if s.current.CompareAndSwap(old, next) {
			return
		}
	}
}

// Snapshot returns a copy the caller may keep and modify.
func (s *ResultStore) Snapshot() Result {
	r := *s.current.Load()
	r.Attributes = r.Attributes.Clone()
	return r
}
