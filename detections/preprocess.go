package detections

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/Tutortoise/facial-attribute-service/models"

	"github.com/disintegration/imaging"
)

// ResizeWithPadding scales img to fit inside width x height without changing
// its aspect ratio and centers it on a black canvas of exactly that size.
func ResizeWithPadding(img image.Image, width, height int) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: target size %dx%d", ErrInvalidFrame, width, height)
	}
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	if srcW <= 0 || srcH <= 0 {
		return nil, fmt.Errorf("%w: empty image %dx%d", ErrInvalidFrame, srcW, srcH)
	}

	scale := math.Min(float64(width)/float64(srcW), float64(height)/float64(srcH))
	w := clampDim(int(math.Round(float64(srcW)*scale)), width)
	h := clampDim(int(math.Round(float64(srcH)*scale)), height)

	resized := imaging.Resize(img, w, h, imaging.Linear)
	canvas := imaging.New(width, height, color.NRGBA{R: PadGray, G: PadGray, B: PadGray, A: 255})
	return imaging.PasteCenter(canvas, resized), nil
}

func clampDim(v, limit int) int {
	if v < 1 {
		return 1
	}
	if v > limit {
		return limit
	}
	return v
}

// Normalize converts img into a planar RGB tensor using the model's
// per-channel mean and standard deviation. A zero norm means ImageNet.
func Normalize(img *image.NRGBA, shape []int64, norm Normalization) (*models.Tensor, error) {
	width, height, err := InputSize(shape)
	if err != nil {
		return nil, err
	}
	if shape[0] != 1 {
		return nil, fmt.Errorf("expected batch size 1, got %d", shape[0])
	}
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		return nil, fmt.Errorf("image is %dx%d, model expects %dx%d", b.Dx(), b.Dy(), width, height)
	}

	norm = norm.orDefault()
	for c, std := range norm.Std {
		if std <= 0 {
			return nil, fmt.Errorf("channel %d: standard deviation must be positive, got %v", c, std)
		}
	}

	cp := newChannelProcessor(width, height)
	cp.processChannels(img, norm)

	return &models.Tensor{
		Shape: append([]int64(nil), shape...),
		Data:  cp.buffer,
	}, nil
}
