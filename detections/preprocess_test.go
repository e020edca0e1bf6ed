package detections

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/Tutortoise/facial-attribute-service/models"

	"github.com/disintegration/imaging"
)

func TestResizeWithPadding_PreservesAspectRatio(t *testing.T) {
	src := imaging.New(200, 100, color.NRGBA{R: 255, A: 255})

	out, err := ResizeWithPadding(src, 64, 64)
	if err != nil {
		t.Fatalf("ResizeWithPadding failed: %v", err)
	}
	if out.Bounds().Dx() != 64 || out.Bounds().Dy() != 64 {
		t.Fatalf("expected 64x64 output, got %v", out.Bounds())
	}

	// 200x100 scaled into 64x64 is 64x32, centered: rows 16..47 carry the image.
	if got := out.NRGBAAt(32, 5); got.R != 0 || got.G != 0 || got.B != 0 {
		t.Errorf("expected black padding at top, got %v", got)
	}
	if got := out.NRGBAAt(32, 60); got.R != 0 {
		t.Errorf("expected black padding at bottom, got %v", got)
	}
	if got := out.NRGBAAt(32, 32); got.R < 250 {
		t.Errorf("expected image content in the center, got %v", got)
	}
	if got := out.NRGBAAt(0, 32); got.R < 250 {
		t.Errorf("expected image to span full width, got %v", got)
	}
}

func TestResizeWithPadding_Upscales(t *testing.T) {
	src := imaging.New(10, 20, color.NRGBA{G: 255, A: 255})

	out, err := ResizeWithPadding(src, 40, 40)
	if err != nil {
		t.Fatalf("ResizeWithPadding failed: %v", err)
	}
	// 10x20 -> 20x40, padded left and right by 10.
	if got := out.NRGBAAt(2, 20); got.G != 0 {
		t.Errorf("expected left padding, got %v", got)
	}
	if got := out.NRGBAAt(20, 0); got.G < 250 {
		t.Errorf("expected image to span full height, got %v", got)
	}
}

func TestResizeWithPadding_EmptyImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 0, 0))

	_, err := ResizeWithPadding(src, 32, 32)
	if !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestNormalize_ImageNetStatistics(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 0, B: 51, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 0, G: 255, B: 204, A: 255})

	tensor, err := Normalize(img, []int64{1, 3, 1, 2}, Normalization{})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	want := []float32{
		(1 - 0.485) / 0.229, (0 - 0.485) / 0.229,
		(0 - 0.456) / 0.224, (1 - 0.456) / 0.224,
		(0.2 - 0.406) / 0.225, (0.8 - 0.406) / 0.225,
	}
	if len(tensor.Data) != len(want) {
		t.Fatalf("expected %d values, got %d", len(want), len(tensor.Data))
	}
	for i, w := range want {
		if math.Abs(float64(tensor.Data[i]-w)) > 1e-4 {
			t.Errorf("value %d: expected %f, got %f", i, w, tensor.Data[i])
		}
	}
}

func TestNormalize_UniformFramesStayDistinct(t *testing.T) {
	colors := map[string]color.NRGBA{
		"white": {R: 255, G: 255, B: 255, A: 255},
		"black": {R: 0, G: 0, B: 0, A: 255},
		"red":   {R: 255, G: 0, B: 0, A: 255},
	}

	seen := make(map[[3]float32]string)
	for name, c := range colors {
		img := imaging.New(4, 4, c)
		tensor, err := Normalize(img, []int64{1, 3, 4, 4}, ImageNetNormalization)
		if err != nil {
			t.Fatalf("%s: Normalize failed: %v", name, err)
		}
		key := [3]float32{tensor.Data[0], tensor.Data[16], tensor.Data[32]}
		if other, ok := seen[key]; ok {
			t.Errorf("%s and %s produce the same model input %v", name, other, key)
		}
		seen[key] = name
	}
}

func TestNormalize_CustomStatistics(t *testing.T) {
	img := imaging.New(1, 1, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	norm := Normalization{
		Mean: [InputChannels]float32{0.5, 0.5, 0.5},
		Std:  [InputChannels]float32{0.5, 0.5, 0.5},
	}

	tensor, err := Normalize(img, []int64{1, 3, 1, 1}, norm)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	for i, v := range tensor.Data {
		if math.Abs(float64(v-1)) > 1e-6 {
			t.Errorf("value %d: expected 1, got %f", i, v)
		}
	}

	norm.Std[1] = 0
	if _, err := Normalize(img, []int64{1, 3, 1, 1}, norm); err == nil {
		t.Error("expected an error for a zero standard deviation")
	}
}

func TestNormalize_PlanarLayout(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 0, G: 255, B: 0, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 255, G: 0, B: 0, A: 255})

	tensor, err := Normalize(img, []int64{1, 3, 1, 2}, ImageNetNormalization)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	// R plane is [low, high], G plane is [high, low].
	if !(tensor.Data[0] < tensor.Data[1]) {
		t.Errorf("unexpected R plane %v", tensor.Data[0:2])
	}
	if !(tensor.Data[2] > tensor.Data[3]) {
		t.Errorf("unexpected G plane %v", tensor.Data[2:4])
	}
}

func TestNormalize_SizeMismatch(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))

	if _, err := Normalize(img, []int64{1, 3, 4, 4}, ImageNetNormalization); err == nil {
		t.Error("expected error for size mismatch")
	}
	if _, err := Normalize(img, []int64{2, 3, 8, 8}, ImageNetNormalization); err == nil {
		t.Error("expected error for batch size 2")
	}
}

func TestInputSize(t *testing.T) {
	w, h, err := InputSize([]int64{1, 3, 112, 96})
	if err != nil {
		t.Fatalf("InputSize failed: %v", err)
	}
	if w != 96 || h != 112 {
		t.Errorf("expected 96x112, got %dx%d", w, h)
	}

	if _, _, err := InputSize([]int64{1, 3, -1, -1}); !errors.Is(err, ErrDynamicInput) {
		t.Errorf("expected ErrDynamicInput, got %v", err)
	}
	if _, _, err := InputSize([]int64{1, 1, 8, 8}); err == nil {
		t.Error("expected error for single channel input")
	}
	if _, _, err := InputSize([]int64{3, 8, 8}); err == nil {
		t.Error("expected error for 3D input")
	}
}

func TestPrepare(t *testing.T) {
	timings := &models.ProcessingTimings{}
	src := imaging.New(64, 48, color.NRGBA{R: 10, G: 200, B: 90, A: 255})

	tensor, err := Prepare(src, []int64{1, 3, 32, 32}, ImageNetNormalization, timings)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if tensor.Elements() != 3*32*32 || int64(len(tensor.Data)) != tensor.Elements() {
		t.Errorf("unexpected tensor size %d for shape %v", len(tensor.Data), tensor.Shape)
	}
}

func TestPrepare_NilImage(t *testing.T) {
	_, err := Prepare(nil, []int64{1, 3, 32, 32}, Normalization{}, &models.ProcessingTimings{})

	var perr *ProcessingError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProcessingError, got %v", err)
	}
	if perr.Stage != StageResize {
		t.Errorf("expected stage %q, got %q", StageResize, perr.Stage)
	}
	if !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("expected ErrInvalidFrame in chain, got %v", err)
	}
}
