package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/straja-ai/liverstage/internal/inference"
)

// Tensor names of a skl2onnx classifier export converted with
// initial_types=[("float_input", FloatTensorType([None, n]))].
const (
	DefaultONNXInputName  = "float_input"
	DefaultONNXOutputName = "output_label"
)

// ONNXOptions selects the runtime library and tensor names of an exported
// classifier. Empty names fall back to the skl2onnx defaults.
type ONNXOptions struct {
	SharedLibraryPath string
	InputName         string
	OutputName        string
}

func (o ONNXOptions) tensorNames() (in, out string) {
	in = strings.TrimSpace(o.InputName)
	if in == "" {
		in = DefaultONNXInputName
	}
	out = strings.TrimSpace(o.OutputName)
	if out == "" {
		out = DefaultONNXOutputName
	}
	return in, out
}

// ONNXClassifier wraps an onnxruntime session over a classifier graph with
// a float32 [1,n] input and an int64 [1] label output.
type ONNXClassifier struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[int64]
	nIn     int
	path    string

	// The session binds fixed input/output tensors, so runs are serialized.
	mu sync.Mutex
}

var ortInitMu sync.Mutex

// LoadONNX initializes the runtime (once per process) and opens a session.
func LoadONNX(bundleDir string, n int, opts ONNXOptions) (*ONNXClassifier, error) {
	if n <= 0 {
		return nil, errors.New("feature count must be positive")
	}
	modelPath := filepath.Join(bundleDir, ONNXModelFile)
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file missing at %s: %w", modelPath, err)
	}

	if err := initRuntime(bundleDir, opts.SharedLibraryPath); err != nil {
		return nil, err
	}

	inName, outName := opts.tensorNames()

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(n)))
	if err != nil {
		return nil, fmt.Errorf("allocate input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[int64](ort.NewShape(1))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{inName},
		[]string{outName},
		[]ort.Value{input},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &ONNXClassifier{
		session: session,
		input:   input,
		output:  output,
		nIn:     n,
		path:    modelPath,
	}, nil
}

func initRuntime(bundleDir, configured string) error {
	ortInitMu.Lock()
	defer ortInitMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	libPath := resolveSharedLibraryPath(bundleDir, configured)
	if libPath == "" {
		return errors.New("onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or install the runtime")
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}
	return nil
}

// Name implements pipeline.Classifier.
func (c *ONNXClassifier) Name() string { return "onnx:" + filepath.Base(c.path) }

// Predict implements pipeline.Classifier.
func (c *ONNXClassifier) Predict(ctx context.Context, v inference.FeatureVector) (int, error) {
	if c == nil || c.session == nil {
		return 0, errors.New("onnx classifier not initialized")
	}
	if len(v) != c.nIn {
		return 0, fmt.Errorf("onnx model expects %d features, got %d", c.nIn, len(v))
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	in := c.input.GetData()
	for i, x := range v {
		in[i] = float32(x)
	}
	if err := c.session.Run(); err != nil {
		return 0, fmt.Errorf("onnx run: %w", err)
	}
	return int(c.output.GetData()[0]), nil
}

// Close implements pipeline.Classifier.
func (c *ONNXClassifier) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	if c.session != nil {
		errs = append(errs, c.session.Destroy())
		c.session = nil
	}
	if c.input != nil {
		errs = append(errs, c.input.Destroy())
		c.input = nil
	}
	if c.output != nil {
		errs = append(errs, c.output.Destroy())
		c.output = nil
	}
	return errors.Join(errs...)
}

// resolveSharedLibraryPath locates a platform-specific onnxruntime shared
// library. An explicit path wins, then ONNXRUNTIME_SHARED_LIBRARY_PATH, then
// common names/locations.
func resolveSharedLibraryPath(bundleDir, configured string) string {
	if p := strings.TrimSpace(configured); p != "" {
		return p
	}
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}

	names := []string{
		"libonnxruntime.dylib",
		"onnxruntime.dylib",
		"libonnxruntime.so",
		"onnxruntime.so",
		"onnxruntime.dll",
	}
	dirs := []string{
		bundleDir,
		filepath.Join(bundleDir, "lib"),
		".",
		"/opt/homebrew/lib",
		"/usr/local/lib",
		"/usr/lib",
	}

	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}
