package detections

const (
	// DefaultEmbeddingOutput is the face identity vector emitted next to the
	// attribute heads. It is not a classification.
	DefaultEmbeddingOutput = "id_feature"

	InputChannels = 3
	PadGray       = 0
)

// Normalization holds the per-channel RGB statistics the model was trained
// with. Pixels are scaled to [0, 1] first.
type Normalization struct {
	Mean [InputChannels]float32
	Std  [InputChannels]float32
}

// ImageNetNormalization is the default for the facial attribute model.
var ImageNetNormalization = Normalization{
	Mean: [InputChannels]float32{0.485, 0.456, 0.406},
	Std:  [InputChannels]float32{0.229, 0.224, 0.225},
}

func (n Normalization) IsZero() bool {
	return n == Normalization{}
}

func (n Normalization) orDefault() Normalization {
	if n.IsZero() {
		return ImageNetNormalization
	}
	return n
}
