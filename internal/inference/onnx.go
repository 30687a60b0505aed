// internal/inference/onnx.go
package inference

import (
	"fmt"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/SyedDaiam9101/cardio-risk-service/internal/artifact"
)

// ortEnv guards the process-wide ONNX Runtime environment. The first
// classifier to load decides the shared library path.
var ortEnv struct {
	once sync.Once
	err  error
}

func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// ONNX runs a classifier exported to ONNX (e.g. with skl2onnx and
// zipmap disabled). It implements Classifier.
type ONNX struct {
	mu          sync.Mutex
	session     *ort.DynamicAdvancedSession
	labelOutput string
	probOutput  string
}

// ONNXWithProba is an ONNX classifier whose graph also emits class probabilities.
type ONNXWithProba struct {
	*ONNX
}

// NewONNX loads the graph referenced by spec; relative paths resolve against
// baseDir. The returned classifier implements ProbabilityClassifier when the
// spec names a probability output.
func NewONNX(spec *artifact.ONNXSpec, baseDir string) (Classifier, error) {
	modelPath := resolvePath(baseDir, spec.File)

	libPath := spec.SharedLibrary
	if libPath != "" {
		libPath = resolvePath(baseDir, libPath)
	}
	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read ONNX model info: %v", artifact.ErrInvalid, err)
	}
	if !hasTensor(inputs, spec.Input) {
		return nil, fmt.Errorf("%w: ONNX model has no input %q", artifact.ErrInvalid, spec.Input)
	}

	outputNames := []string{spec.LabelOutput}
	if !hasTensor(outputs, spec.LabelOutput) {
		return nil, fmt.Errorf("%w: ONNX model has no output %q", artifact.ErrInvalid, spec.LabelOutput)
	}
	if spec.ProbabilityOutput != "" {
		if !hasTensor(outputs, spec.ProbabilityOutput) {
			return nil, fmt.Errorf("%w: ONNX model has no output %q", artifact.ErrInvalid, spec.ProbabilityOutput)
		}
		outputNames = append(outputNames, spec.ProbabilityOutput)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{spec.Input}, outputNames, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	inf := &ONNX{
		session:     session,
		labelOutput: spec.LabelOutput,
		probOutput:  spec.ProbabilityOutput,
	}
	if inf.probOutput != "" {
		return &ONNXWithProba{ONNX: inf}, nil
	}
	return inf, nil
}

// Predict returns the label emitted by the graph.
func (inf *ONNX) Predict(features []float64) (int, error) {
	label, _, err := inf.run(features, false)
	return label, err
}

// PredictProba returns the class probabilities emitted by the graph.
func (inf *ONNXWithProba) PredictProba(features []float64) ([]float64, error) {
	_, probs, err := inf.run(features, true)
	return probs, err
}

// PredictWithProba runs the graph once and returns both outputs.
func (inf *ONNXWithProba) PredictWithProba(features []float64) (int, []float64, error) {
	return inf.run(features, true)
}

func (inf *ONNX) run(features []float64, wantProba bool) (int, []float64, error) {
	if err := checkFeatures(features); err != nil {
		return 0, nil, err
	}

	inf.mu.Lock()
	defer inf.mu.Unlock()

	if inf.session == nil {
		return 0, nil, fmt.Errorf("inference session is nil")
	}

	data := make([]float32, len(features))
	for i, f := range features {
		data[i] = float32(f)
	}
	input, err := ort.NewTensor(ort.NewShape(1, int64(len(data))), data)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	// Outputs are allocated by the runtime so the graph decides their element type.
	outputs := make([]ort.Value, 1, 2)
	if inf.probOutput != "" {
		outputs = append(outputs, nil)
	}
	if err := inf.session.Run([]ort.Value{input}, outputs); err != nil {
		return 0, nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		for _, v := range outputs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	label, err := firstLabel(outputs[0])
	if err != nil {
		return 0, nil, err
	}
	if !wantProba {
		return label, nil, nil
	}
	probs, err := floatValues(outputs[1])
	if err != nil {
		return 0, nil, err
	}
	return label, probs, nil
}

// Close releases the ONNX session. The runtime environment stays
// initialized for the life of the process.
func (inf *ONNX) Close() error {
	inf.mu.Lock()
	defer inf.mu.Unlock()

	if inf.session != nil {
		err := inf.session.Destroy()
		inf.session = nil
		if err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
	}
	return nil
}

func firstLabel(v ort.Value) (int, error) {
	switch t := v.(type) {
	case *ort.Tensor[int64]:
		if d := t.GetData(); len(d) > 0 {
			return int(d[0]), nil
		}
	case *ort.Tensor[int32]:
		if d := t.GetData(); len(d) > 0 {
			return int(d[0]), nil
		}
	case *ort.Tensor[float32]:
		if d := t.GetData(); len(d) > 0 {
			return int(d[0]), nil
		}
	default:
		return 0, fmt.Errorf("unsupported label output type %T", v)
	}
	return 0, fmt.Errorf("label output is empty")
}

func floatValues(v ort.Value) ([]float64, error) {
	switch t := v.(type) {
	case *ort.Tensor[float32]:
		d := t.GetData()
		out := make([]float64, len(d))
		for i, f := range d {
			out[i] = float64(f)
		}
		return out, nil
	case *ort.Tensor[float64]:
		return append([]float64(nil), t.GetData()...), nil
	default:
		return nil, fmt.Errorf("unsupported probability output type %T", v)
	}
}

func hasTensor(infos []ort.InputOutputInfo, name string) bool {
	for _, info := range infos {
		if info.Name == name {
			return true
		}
	}
	return false
}

func resolvePath(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// Ensure the ONNX classifiers implement the contracts at compile time
var (
	_ Classifier            = (*ONNX)(nil)
	_ JointClassifier       = (*ONNXWithProba)(nil)
)
