package detections

import (
	"fmt"
	"strconv"

	"github.com/Tutortoise/facial-attribute-service/models"

	ort "github.com/yalue/onnxruntime_go"
)

type SessionConfig struct {
	ModelPath   string
	Accelerator models.Accelerator
	DeviceID    int
	Threads     int
}

// ModelSession is an Engine backed by an onnxruntime session. The input
// shape is read from the model file; all outputs are requested by name.
type ModelSession struct {
	Session     *ort.DynamicAdvancedSession
	InputName   string
	OutputNames []string
	shape       ort.Shape
}

// InitializeRuntime loads the onnxruntime shared library. It must run once
// before any session is created.
func InitializeRuntime(libPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("error initializing onnxruntime: %w", err)
	}
	return nil
}

func DestroyRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

func NewModelSession(cfg SessionConfig) (*ModelSession, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("error reading model metadata: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model %s has %d inputs and %d outputs", cfg.ModelPath, len(inputs), len(outputs))
	}

	shape, err := fixedInputShape(inputs[0].Dimensions)
	if err != nil {
		return nil, fmt.Errorf("input %q: %w", inputs[0].Name, err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	threads := cfg.Threads
	if threads <= 0 {
		threads = DetectCPUFeatures().IntraOpThreads()
	}
	if err := options.SetIntraOpNumThreads(threads); err != nil {
		return nil, fmt.Errorf("error setting intra-op threads: %w", err)
	}
	if err := appendExecutionProvider(options, cfg); err != nil {
		return nil, err
	}

	outputNames := make([]string, len(outputs))
	for i, o := range outputs {
		outputNames[i] = o.Name
	}

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{inputs[0].Name},
		outputNames,
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &ModelSession{
		Session:     session,
		InputName:   inputs[0].Name,
		OutputNames: outputNames,
		shape:       shape,
	}, nil
}

// fixedInputShape accepts NCHW inputs whose batch may be symbolic; the
// spatial dimensions must be concrete.
func fixedInputShape(dims ort.Shape) (ort.Shape, error) {
	shape := dims.Clone()
	if len(shape) != 4 {
		return nil, fmt.Errorf("expected 4 input dimensions, got %v", dims)
	}
	if shape[0] <= 0 {
		shape[0] = 1
	}
	if shape[1] <= 0 {
		shape[1] = InputChannels
	}
	if shape[2] <= 0 || shape[3] <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrDynamicInput, dims)
	}
	return shape, nil
}

func appendExecutionProvider(options *ort.SessionOptions, cfg SessionConfig) error {
	switch cfg.Accelerator {
	case "", models.AcceleratorCPU:
		return nil
	case models.AcceleratorCUDA:
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return fmt.Errorf("error creating CUDA options: %w", err)
		}
		defer cudaOptions.Destroy()
		if err := cudaOptions.Update(map[string]string{
			"device_id": strconv.Itoa(cfg.DeviceID),
		}); err != nil {
			return fmt.Errorf("error configuring CUDA: %w", err)
		}
		return options.AppendExecutionProviderCUDA(cudaOptions)
	case models.AcceleratorDirectML:
		return options.AppendExecutionProviderDirectML(cfg.DeviceID)
	case models.AcceleratorCoreML:
		return options.AppendExecutionProviderCoreML(0)
	case models.AcceleratorOpenVINO:
		return options.AppendExecutionProviderOpenVINO(map[string]string{})
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAccelerator, cfg.Accelerator)
	}
}

func (m *ModelSession) InputShape() []int64 {
	return append([]int64(nil), m.shape...)
}

func (m *ModelSession) Run(input *models.Tensor) (map[string]*models.Tensor, error) {
	if m.Session == nil {
		return nil, ErrEngineClosed
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(input.Shape...), input.Data)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	// nil outputs are allocated by onnxruntime and owned by us afterwards.
	outputs := make([]ort.Value, len(m.OutputNames))
	if err := m.Session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		destroyValues(outputs)
		return nil, fmt.Errorf("model inference: %w", err)
	}
	defer destroyValues(outputs)

	results := make(map[string]*models.Tensor, len(outputs))
	for i, value := range outputs {
		tensor, ok := value.(*ort.Tensor[float32])
		if !ok {
			continue
		}
		results[m.OutputNames[i]] = &models.Tensor{
			Shape: append([]int64(nil), tensor.GetShape()...),
			Data:  append([]float32(nil), tensor.GetData()...),
		}
	}
	return results, nil
}

func (m *ModelSession) Destroy() error {
	if m.Session == nil {
		return nil
	}
	err := m.Session.Destroy()
	m.Session = nil
	return err
}

func destroyValues(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}
