package detections

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/Tutortoise/facial-attribute-service/models"
)

// Engine is an exclusively owned, loaded model. Implementations are not safe
// for concurrent use; callers serialize Run and Destroy.
type Engine interface {
	// InputShape is the fixed NCHW input shape read from the model.
	InputShape() []int64
	Run(input *models.Tensor) (map[string]*models.Tensor, error)
	Destroy() error
}

var (
	ErrEngineClosed           = errors.New("inference engine is closed")
	ErrDynamicInput           = errors.New("model input has dynamic spatial dimensions")
	ErrUnsupportedAccelerator = errors.New("unsupported accelerator")
	ErrInvalidFrame           = errors.New("invalid frame")
)

const (
	StageLoad        = "load"
	StageResize      = "resize"
	StagePreprocess  = "preprocess"
	StageInference   = "inference"
	StagePostprocess = "postprocess"
)

type ProcessingError struct {
	Stage string
	Cause error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Cause)
	}
	return e.Stage
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// InputSize returns width and height from an NCHW shape.
func InputSize(shape []int64) (width, height int, err error) {
	if len(shape) != 4 {
		return 0, 0, fmt.Errorf("expected NCHW input shape, got %v", shape)
	}
	if shape[1] != InputChannels {
		return 0, 0, fmt.Errorf("expected %d input channels, got %d", InputChannels, shape[1])
	}
	if shape[2] <= 0 || shape[3] <= 0 {
		return 0, 0, fmt.Errorf("%w: %v", ErrDynamicInput, shape)
	}
	return int(shape[3]), int(shape[2]), nil
}

// Prepare letterboxes img to the engine input size and normalizes it into
// an NCHW tensor of the given shape.
func Prepare(img image.Image, shape []int64, norm Normalization, timings *models.ProcessingTimings) (*models.Tensor, error) {
	if img == nil {
		return nil, &ProcessingError{Stage: StageResize, Cause: fmt.Errorf("%w: no image", ErrInvalidFrame)}
	}
	width, height, err := InputSize(shape)
	if err != nil {
		return nil, &ProcessingError{Stage: StagePreprocess, Cause: err}
	}

	resizeStart := time.Now()
	padded, err := ResizeWithPadding(img, width, height)
	if err != nil {
		return nil, &ProcessingError{Stage: StageResize, Cause: err}
	}
	timings.Resize = time.Since(resizeStart)

	prepStart := time.Now()
	input, err := Normalize(padded, shape, norm)
	if err != nil {
		return nil, &ProcessingError{Stage: StagePreprocess, Cause: err}
	}
	timings.Preprocess = time.Since(prepStart)

	return input, nil
}
