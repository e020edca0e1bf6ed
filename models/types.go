package models

import (
	"image"
	"time"
)

// Frame is a single camera image handed from a frame source to the pipeline.
// Ownership moves with the pointer; a superseded frame is simply dropped.
type Frame struct {
	Image     image.Image
	Width     int
	Height    int
	Seq       uint64
	TraceID   string
	ArrivedAt time.Time
}

// NewFrame wraps img, taking its pixel size from the bounds.
func NewFrame(img image.Image, seq uint64) *Frame {
	b := img.Bounds()
	return &Frame{
		Image:     img,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Seq:       seq,
		ArrivedAt: time.Now(),
	}
}

// Attributes maps a classifier output name to its binary decision.
type Attributes map[string]bool

func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Elements returns the element count implied by Shape.
func (t *Tensor) Elements() int64 {
	if len(t.Shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

type Accelerator string

const (
	AcceleratorCPU      Accelerator = "cpu"
	AcceleratorCUDA     Accelerator = "cuda"
	AcceleratorDirectML Accelerator = "dml"
	AcceleratorCoreML   Accelerator = "coreml"
	AcceleratorOpenVINO Accelerator = "openvino"
)

// Overlay is what a render tick draws: the current attributes plus the
// counters shown next to them.
type Overlay struct {
	Version             uint64     `json:"version"`
	Active              bool       `json:"active"`
	Attributes          Attributes `json:"attributes"`
	FPS                 int        `json:"fps"`
	DetectionsPerSecond int        `json:"detections_per_second"`
	FrameWidth          int        `json:"frame_width"`
	FrameHeight         int        `json:"frame_height"`
	RenderedAt          time.Time  `json:"rendered_at"`
}

type ProcessingTimings struct {
	TraceID     string
	Resize      time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Total       time.Duration
}
