package ai

import (
	"context"
	"image"
	"os"
	"runtime"
	"strconv"
	"sync"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/visionflow/visionflow/internal/errors"
	"github.com/visionflow/visionflow/internal/logger"
)

// ONNXConfig configures the ONNX Runtime engine
type ONNXConfig struct {
	InputSize         int // square model input, e.g. 640
	IOUThreshold      float64
	Labels            []string // empty means COCO-80
	SharedLibraryPath string
	IntraOpThreads    int // 0 means runtime.NumCPU()
	CUDADeviceID      int // -1 runs on the CPU
}

// ONNXEngine runs a YOLOv8/YOLO11 detection export through ONNX Runtime.
// Input "images" is (1, 3, S, S); output "output0" is (1, 4+C, N).
type ONNXEngine struct {
	cfg        ONNXConfig
	names      map[int]string
	numClasses int
	numAnchors int
	logger     *logger.Logger

	mu      sync.Mutex // one Run at a time; tensors are shared
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNXFactory returns an EngineFactory building ONNXEngines
func NewONNXFactory(cfg ONNXConfig, log *logger.Logger) EngineFactory {
	return func(ctx context.Context, spec ModelSpec) (Engine, error) {
		return NewONNXEngine(spec.ModelPath, cfg, log)
	}
}

// NewONNXEngine loads the model at modelPath into a new session
func NewONNXEngine(modelPath string, cfg ONNXConfig, log *logger.Logger) (*ONNXEngine, error) {
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}
	if cfg.IOUThreshold <= 0 {
		cfg.IOUThreshold = 0.7
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, errors.Wrapf(err, "model file %s", modelPath)
	}

	if err := initRuntime(cfg.SharedLibraryPath); err != nil {
		return nil, err
	}

	names := ClassNames(cfg.Labels)
	e := &ONNXEngine{
		cfg:        cfg,
		names:      names,
		numClasses: len(names),
		numAnchors: anchorCount(cfg.InputSize),
		logger:     log,
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating session options")
	}
	defer options.Destroy()

	threads := cfg.IntraOpThreads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if err := options.SetIntraOpNumThreads(threads); err != nil {
		return nil, errors.Wrap(err, "error setting intra-op threads")
	}
	if err := options.SetInterOpNumThreads(1); err != nil {
		return nil, errors.Wrap(err, "error setting inter-op threads")
	}

	if cfg.CUDADeviceID >= 0 {
		if err := appendCUDAProvider(options, cfg.CUDADeviceID); err != nil {
			return nil, err
		}
	}

	size := int64(cfg.InputSize)
	e.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}

	e.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+e.numClasses), int64(e.numAnchors)))
	if err != nil {
		e.input.Destroy()
		return nil, errors.Wrap(err, "error creating output tensor")
	}

	e.session, err = ort.NewAdvancedSession(
		modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{e.input},
		[]ort.ArbitraryTensor{e.output},
		options,
	)
	if err != nil {
		e.input.Destroy()
		e.output.Destroy()
		return nil, errors.Wrap(err, "error creating session")
	}

	if log != nil {
		log.Info("ONNX session created",
			"model_path", modelPath,
			"input_size", cfg.InputSize,
			"classes", e.numClasses,
			"cuda_device", cfg.CUDADeviceID,
		)
	}
	return e, nil
}

// Predict resizes img to the model input, runs the session and decodes the
// output into boxes in source-image pixels
func (e *ONNXEngine) Predict(ctx context.Context, img Image, threshold float64) (RawOutput, error) {
	if err := ctx.Err(); err != nil {
		return RawOutput{}, err
	}
	if img.Pixels == nil || img.Width <= 0 || img.Height <= 0 {
		return RawOutput{}, errors.NewValidationError("empty image")
	}

	resized := imaging.Resize(img.Pixels, e.cfg.InputSize, e.cfg.InputSize, imaging.Linear)

	e.mu.Lock()
	defer e.mu.Unlock()

	fillInput(resized, e.input.GetData())
	if err := e.session.Run(); err != nil {
		return RawOutput{}, errors.Wrap(err, "model inference")
	}

	scaleX := float64(img.Width) / float64(e.cfg.InputSize)
	scaleY := float64(img.Height) / float64(e.cfg.InputSize)
	candidates := decodeOutput(e.output.GetData(), e.numClasses, e.numAnchors, threshold, scaleX, scaleY)
	kept := nonMaxSuppression(candidates, e.cfg.IOUThreshold)
	for i := range kept {
		kept[i].Box = clipBox(kept[i].Box, img.Width, img.Height)
	}

	return RawOutput{Detections: kept, Names: e.names}, nil
}

// Close destroys the session and its tensors
func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.input != nil {
		e.input.Destroy()
		e.input = nil
	}
	if e.output != nil {
		e.output.Destroy()
		e.output = nil
	}
	return err
}

// fillInput writes pic into dst as planar RGB scaled to [0, 1]
func fillInput(pic *image.NRGBA, dst []float32) {
	b := pic.Bounds()
	width, height := b.Dx(), b.Dy()
	channelSize := width * height
	for y := 0; y < height; y++ {
		row := pic.Pix[y*pic.Stride:]
		offset := y * width
		for x := 0; x < width; x++ {
			px := row[x*4 : x*4+3]
			i := offset + x
			dst[i] = float32(px[0]) / 255.0
			dst[channelSize+i] = float32(px[1]) / 255.0
			dst[channelSize*2+i] = float32(px[2]) / 255.0
		}
	}
}

var runtimeMu sync.Mutex

// initRuntime initializes the process-wide ONNX Runtime environment once
func initRuntime(libPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ONNX Runtime")
	}
	return nil
}

// ShutdownRuntime tears down the ONNX Runtime environment if it was started
func ShutdownRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

func appendCUDAProvider(options *ort.SessionOptions, deviceID int) error {
	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return errors.Wrap(err, "error creating CUDA provider options")
	}
	defer cudaOptions.Destroy()

	if err := cudaOptions.Update(map[string]string{"device_id": strconv.Itoa(deviceID)}); err != nil {
		return errors.Wrap(err, "error configuring CUDA provider")
	}
	if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
		return errors.Wrapf(err, "error enabling CUDA device %d", deviceID)
	}
	return nil
}
