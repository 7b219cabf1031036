package model

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Server runs the exported ONNX model. A single session and its tensors are
// shared, so inference is serialised by mu.
type Server struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	Metadata     Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	topK         int
	maxPixels    int64
	logger       *slog.Logger
	// infer runs the model on one preprocessed tensor, normally s.run.
	infer func([]float32) ([]float32, error)
}

type ServerOptions struct {
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// platform default lookup.
	LibraryPath string
	TopK        int
	// MaxImagePixels rejects uploads whose header declares more pixels.
	// Zero uses DefaultMaxImagePixels.
	MaxImagePixels int64
	Logger         *slog.Logger
}

func NewServer(modelPath string, metadata Metadata, opts ServerOptions) (*Server, error) {
	if err := metadata.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	if err := metadata.CheckTopK(topK); err != nil {
		return nil, err
	}

	if opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(opts.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	inputShape := ort.NewShape(metadata.InputShape...)
	outputShape := ort.NewShape(metadata.OutputShape...)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{metadata.inputName()}, []string{metadata.outputName()},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	logger.Info("model loaded", "path", modelPath, "classes", len(metadata.Classes), "image_size", metadata.ImageSize)

	s := &Server{
		session:      session,
		Metadata:     metadata,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		topK:         topK,
		maxPixels:    opts.MaxImagePixels,
		logger:       logger,
	}
	s.infer = s.run
	return s, nil
}

// Classify decodes an uploaded image and returns its top labels.
// Decode failures wrap ErrInvalidImage, inference failures ErrComputationFailed.
func (s *Server) Classify(_ context.Context, data []byte) (RankedResult, error) {
	img, format, err := DecodeImage(data, s.maxPixels)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("image decoded", "format", format, "width", img.Bounds().Dx(), "height", img.Bounds().Dy())

	inputData := Preprocess(img, s.Metadata)
	if want := s.Metadata.InputSize(); len(inputData) != want {
		return nil, fmt.Errorf("%w: preprocessed %d values, model expects %d", ErrComputationFailed, len(inputData), want)
	}

	scores, err := s.infer(inputData)
	if err != nil {
		return nil, err
	}
	return s.Metadata.Score(scores, s.topK)
}

func (s *Server) run(inputData []float32) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy(s.inputTensor.GetData(), inputData)
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("%w: inference failed: %v", ErrComputationFailed, err)
	}

	out := s.outputTensor.GetData()
	scores := make([]float32, len(out))
	for i, v := range out {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("%w: non-finite model output at index %d", ErrComputationFailed, i)
		}
		scores[i] = v
	}
	return scores, nil
}

func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
		s.inputTensor = nil
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
		s.outputTensor = nil
	}
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	ort.DestroyEnvironment()
}
