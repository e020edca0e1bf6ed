package pipeline

import (
	"sync/atomic"

	"github.com/Tutortoise/facial-attribute-service/models"
)

// FrameSlot holds at most one pending frame. Put replaces whatever is there;
// Take empties it. Neither blocks.
type FrameSlot struct {
	frame       atomic.Pointer[models.Frame]
	overwritten atomic.Uint64
}

func (s *FrameSlot) Put(frame *models.Frame) {
	if old := s.frame.Swap(frame); old != nil {
		s.overwritten.Add(1)
	}
}

func (s *FrameSlot) Take() *models.Frame {
	return s.frame.Swap(nil)
}

func (s *FrameSlot) Clear() {
	s.frame.Store(nil)
}

func (s *FrameSlot) Pending() bool {
	return s.frame.Load() != nil
}

// Overwritten counts frames replaced before anyone took them.
func (s *FrameSlot) Overwritten() uint64 {
	return s.overwritten.Load()
}
