package describe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Brownie44l1/describe-api/internal/cache"
	"github.com/Brownie44l1/describe-api/internal/model"
)

var catResult = model.RankedResult{
	{Name: "cat", Confidence: 91.2},
	{Name: "dog", Confidence: 4.1},
	{Name: "fox", Confidence: 2.0},
	{Name: "wolf", Confidence: 1.5},
	{Name: "lynx", Confidence: 1.2},
}

type stubClassifier struct {
	calls   atomic.Int32
	gate    chan struct{}
	results map[string]model.RankedResult
	errs    map[string]error
}

func (s *stubClassifier) Classify(_ context.Context, image []byte) (model.RankedResult, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if err, ok := s.errs[string(image)]; ok {
		return nil, err
	}
	if r, ok := s.results[string(image)]; ok {
		return r, nil
	}
	return nil, model.ErrInvalidImage
}

func newTestService(t *testing.T, classifier Classifier) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(classifier, cache.New[model.RankedResult](0), logger)
}

func TestDescribeTwice(t *testing.T) {
	stub := &stubClassifier{results: map[string]model.RankedResult{"IMG1": catResult}}
	svc := newTestService(t, stub)
	ctx := context.Background()

	first, err := svc.Describe(ctx, []byte("IMG1"))
	if err != nil {
		t.Fatal(err)
	}
	if s := svc.Stats(); s.Misses != 1 || s.Hits != 0 {
		t.Fatalf("after first call: %+v", s)
	}

	second, err := svc.Describe(ctx, []byte("IMG1"))
	if err != nil {
		t.Fatal(err)
	}

	if len(first) != 5 || !first.Equal(catResult) || !second.Equal(first) {
		t.Fatalf("expected identical 5-label results, got %v and %v", first, second)
	}
	want := cache.Stats{Hits: 1, Misses: 1, Size: 1}
	if s := svc.Stats(); s != want {
		t.Errorf("expected %+v, got %+v", want, s)
	}
	if stub.calls.Load() != 1 {
		t.Errorf("expected one classification, got %d", stub.calls.Load())
	}
}

func TestDescribeResultIsNotAliased(t *testing.T) {
	stub := &stubClassifier{results: map[string]model.RankedResult{"IMG1": catResult}}
	svc := newTestService(t, stub)

	first, err := svc.Describe(context.Background(), []byte("IMG1"))
	if err != nil {
		t.Fatal(err)
	}
	first[0].Name = "mutated"

	second, err := svc.Describe(context.Background(), []byte("IMG1"))
	if err != nil {
		t.Fatal(err)
	}
	if second[0].Name != "cat" {
		t.Errorf("cached entry was mutated through a returned result: %v", second)
	}
}

func TestDescribeConcurrentSingleClassification(t *testing.T) {
	stub := &stubClassifier{
		gate:    make(chan struct{}),
		results: map[string]model.RankedResult{"IMG1": catResult},
	}
	svc := newTestService(t, stub)

	const n = 32
	var wg sync.WaitGroup
	results := make([]model.RankedResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Describe(context.Background(), []byte("IMG1"))
		}(i)
	}
	// every caller registers before the classifier returns
	deadline := time.Now().Add(2 * time.Second)
	for svc.Stats().Misses < n {
		if time.Now().After(deadline) {
			t.Fatal("callers did not reach the cache")
		}
		time.Sleep(time.Millisecond)
	}
	close(stub.gate)
	wg.Wait()

	if got := stub.calls.Load(); got != 1 {
		t.Fatalf("expected one classification, got %d", got)
	}
	for i := range results {
		if errs[i] != nil || !results[i].Equal(catResult) {
			t.Fatalf("caller %d: %v %v", i, results[i], errs[i])
		}
	}
}

func TestDescribeFailures(t *testing.T) {
	errBackend := errors.New("onnx session lost")
	tests := []struct {
		name  string
		image string
		err   error
		want  error
	}{
		{"invalid image", "garbage", model.ErrInvalidImage, model.ErrInvalidImage},
		{"computation failed", "IMG2", model.ErrComputationFailed, model.ErrComputationFailed},
		{"untyped backend error", "IMG3", errBackend, model.ErrComputationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubClassifier{errs: map[string]error{tt.image: tt.err}}
			svc := newTestService(t, stub)

			_, err := svc.Describe(context.Background(), []byte(tt.image))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			s := svc.Stats()
			if s.Size != 0 || s.Hits != 0 || s.Misses != 1 {
				t.Fatalf("failure must only record a miss: %+v", s)
			}

			// a later success is computed, not served from a cached failure
			delete(stub.errs, tt.image)
			stub.results = map[string]model.RankedResult{tt.image: catResult}
			got, err := svc.Describe(context.Background(), []byte(tt.image))
			if err != nil || !got.Equal(catResult) {
				t.Fatalf("retry: %v %v", got, err)
			}
			if stub.calls.Load() != 2 {
				t.Errorf("expected a second classification, got %d calls", stub.calls.Load())
			}
		})
	}
}

func TestDescribeEmptyResultIsFailure(t *testing.T) {
	stub := &stubClassifier{results: map[string]model.RankedResult{"IMG1": {}}}
	svc := newTestService(t, stub)

	if _, err := svc.Describe(context.Background(), []byte("IMG1")); !errors.Is(err, model.ErrComputationFailed) {
		t.Fatalf("expected ErrComputationFailed, got %v", err)
	}
	if svc.Stats().Size != 0 {
		t.Error("empty result must not be cached")
	}
}

func TestDescribeCancelledCaller(t *testing.T) {
	stub := &stubClassifier{
		gate:    make(chan struct{}),
		results: map[string]model.RankedResult{"IMG1": catResult},
	}
	svc := newTestService(t, stub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Describe(ctx, []byte("IMG1")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(stub.gate)
	got, err := svc.Describe(context.Background(), []byte("IMG1"))
	if err != nil || !got.Equal(catResult) {
		t.Fatalf("expected result after cancelled caller, got %v %v", got, err)
	}
	if stub.calls.Load() != 1 {
		t.Errorf("cancelled caller's computation should have been reused, got %d calls", stub.calls.Load())
	}
}
