package detections

import "github.com/Tutortoise/facial-attribute-service/models"

// Postprocess turns named model outputs into attribute decisions. Outputs
// listed in skip are embeddings and never classified. Only 1x2 outputs are
// binary heads; index 1 beating index 0 means the attribute is present.
// Anything else is ignored.
func Postprocess(outputs map[string]*models.Tensor, skip []string) models.Attributes {
	attributes := make(models.Attributes, len(outputs))

	for name, tensor := range outputs {
		if contains(skip, name) || tensor == nil {
			continue
		}
		if !isBinaryHead(tensor) {
			continue
		}
		attributes[name] = tensor.Data[1] > tensor.Data[0]
	}

	return attributes
}

func isBinaryHead(t *models.Tensor) bool {
	return len(t.Shape) == 2 && t.Shape[0] == 1 && t.Shape[1] == 2 && len(t.Data) >= 2
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
