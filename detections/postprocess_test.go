package detections

import (
	"testing"

	"github.com/Tutortoise/facial-attribute-service/models"
)

func TestPostprocess_BinaryHeadsAndEmbedding(t *testing.T) {
	outputs := map[string]*models.Tensor{
		"a":          {Shape: []int64{1, 2}, Data: []float32{0.2, 0.8}},
		"b":          {Shape: []int64{1, 2}, Data: []float32{0.9, 0.1}},
		"id_feature": {Shape: []int64{1, 2}, Data: []float32{0.1, 0.9}},
	}

	got := Postprocess(outputs, []string{DefaultEmbeddingOutput})

	if len(got) != 2 {
		t.Fatalf("expected 2 attributes, got %v", got)
	}
	if !got["a"] {
		t.Error("expected a to be true")
	}
	if got["b"] {
		t.Error("expected b to be false")
	}
	if _, ok := got["id_feature"]; ok {
		t.Error("embedding output must not be classified")
	}
}

func TestPostprocess_IgnoresOtherShapes(t *testing.T) {
	outputs := map[string]*models.Tensor{
		"three":    {Shape: []int64{1, 3}, Data: []float32{0.1, 0.5, 0.4}},
		"batch":    {Shape: []int64{2, 2}, Data: []float32{0.1, 0.9, 0.1, 0.9}},
		"flat":     {Shape: []int64{2}, Data: []float32{0.1, 0.9}},
		"short":    {Shape: []int64{1, 2}, Data: []float32{0.1}},
		"liveness": {Shape: []int64{1, 1, 2}, Data: []float32{0.1, 0.9}},
		"nil":      nil,
	}

	got := Postprocess(outputs, nil)

	if len(got) != 0 {
		t.Errorf("expected no attributes, got %v", got)
	}
}

func TestPostprocess_TieIsFalse(t *testing.T) {
	outputs := map[string]*models.Tensor{
		"smile": {Shape: []int64{1, 2}, Data: []float32{0.5, 0.5}},
	}

	got := Postprocess(outputs, nil)

	if v, ok := got["smile"]; !ok || v {
		t.Errorf("expected smile=false, got %v", got)
	}
}
