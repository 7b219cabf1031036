package model

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image/color"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
)

// pngHeader returns a PNG holding only a signature and an IHDR chunk for an
// 8-bit grayscale image of the given size: no pixel data at all.
func pngHeader(width, height uint32) []byte {
	var ihdr bytes.Buffer
	binary.Write(&ihdr, binary.BigEndian, width)
	binary.Write(&ihdr, binary.BigEndian, height)
	ihdr.Write([]byte{8, 0, 0, 0, 0}) // bit depth, gray, deflate, filter, no interlace

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&buf, binary.BigEndian, uint32(ihdr.Len()))
	chunk := append([]byte("IHDR"), ihdr.Bytes()...)
	buf.Write(chunk)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecodeImageRejectsOversizedHeader(t *testing.T) {
	data := pngHeader(16000, 16000)

	_, _, err := DecodeImage(data, 0)
	if !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
	if !strings.Contains(err.Error(), "16000x16000") {
		t.Errorf("expected the declared size in the error, got %v", err)
	}

	_, _, err = DecodeImage(pngHeader(60000, 60000), DefaultMaxImagePixels)
	if !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage for 60000x60000, got %v", err)
	}
}

func TestDecodeImagePixelLimit(t *testing.T) {
	data := encodePNG(t, 4, 4, color.White)

	if _, _, err := DecodeImage(data, 15); !errors.Is(err, ErrInvalidImage) {
		t.Errorf("expected 16 pixels to exceed a limit of 15, got %v", err)
	}
	if _, _, err := DecodeImage(data, 16); err != nil {
		t.Errorf("expected 16 pixels to fit a limit of 16, got %v", err)
	}
}

func TestScore(t *testing.T) {
	logits := []float32{3.2, -1.5, 0.7, -4.0, 1.1}
	meta := Metadata{Classes: []string{"a", "b", "c", "d", "e"}, ImageSize: 8}

	if _, err := meta.Score(logits, 5); !errors.Is(err, ErrComputationFailed) {
		t.Fatalf("raw logits must be rejected, got %v", err)
	}
	if logits[0] != 3.2 {
		t.Error("Score must not modify its input")
	}

	meta.Softmax = true
	result, err := meta.Score(logits, 5)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "e", "c", "b", "d"}
	var total float64
	for i, l := range result {
		if l.Name != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], l.Name)
		}
		if l.Confidence < 0 || l.Confidence > 100 {
			t.Errorf("confidence out of range: %v", l)
		}
		total += l.Confidence
	}
	if math.Abs(total-100) > 1e-3 {
		t.Errorf("expected confidences to sum to 100, got %f", total)
	}
}

func TestScoreRejectsBadOutputs(t *testing.T) {
	meta := Metadata{Classes: []string{"a", "b", "c"}, ImageSize: 8}
	nan := float32(math.NaN())

	tests := []struct {
		name   string
		scores []float32
		k      int
	}{
		{"negative", []float32{0.5, -0.2, 0.7}, 3},
		{"above one", []float32{1.5, 0.1, 0.1}, 3},
		{"nan", []float32{nan, 0.1, 0.1}, 3},
		{"too few outputs", []float32{0.9, 0.1}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := meta.Score(tt.scores, tt.k); !errors.Is(err, ErrComputationFailed) {
				t.Errorf("expected ErrComputationFailed, got %v", err)
			}
		})
	}

	// rounding just past 1 is clamped, not rejected
	result, err := meta.Score([]float32{1.000001, 0, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if result[0].Confidence != 100 {
		t.Errorf("expected clamped confidence 100, got %f", result[0].Confidence)
	}
}

func TestCheckTopK(t *testing.T) {
	meta := Metadata{Classes: []string{"a", "b", "c", "d", "e"}, ImageSize: 8}
	if err := meta.CheckTopK(5); err != nil {
		t.Errorf("five classes should fill top 5: %v", err)
	}
	if err := meta.CheckTopK(6); err == nil {
		t.Error("expected error when the vocabulary is smaller than top_k")
	}
	if err := meta.CheckTopK(0); err == nil {
		t.Error("expected error for top_k=0")
	}
}

func newTestServer(meta Metadata, infer func([]float32) ([]float32, error)) *Server {
	return &Server{
		Metadata: meta,
		topK:     DefaultTopK,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		infer:    infer,
	}
}

func TestClassifyPipeline(t *testing.T) {
	meta := Metadata{
		InputShape: []int64{1, 3, 4, 4},
		Classes:    []string{"apple", "cat", "dog", "fox", "lynx", "wolf"},
		ImageSize:  4,
		Softmax:    true,
	}

	var seen []float32
	srv := newTestServer(meta, func(in []float32) ([]float32, error) {
		seen = in
		return []float32{0, 6, 3, 2, 1, 1.5}, nil
	})

	result, err := srv.Classify(context.Background(), encodePNG(t, 16, 16, color.RGBA{R: 255, A: 255}))
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 3*4*4 || math.Abs(float64(seen[0])-1) > 1e-3 {
		t.Errorf("unexpected model input: %d values, first %v", len(seen), seen)
	}

	want := []string{"cat", "dog", "fox", "wolf", "lynx"}
	if len(result) != len(want) {
		t.Fatalf("expected %d labels, got %v", len(want), result)
	}
	for i, name := range want {
		if result[i].Name != name {
			t.Errorf("position %d: expected %s, got %s", i, name, result[i].Name)
		}
	}
}

func TestClassifyFailures(t *testing.T) {
	meta := Metadata{
		InputShape: []int64{1, 3, 4, 4},
		Classes:    []string{"a", "b", "c", "d", "e"},
		ImageSize:  4,
	}
	called := false
	srv := newTestServer(meta, func([]float32) ([]float32, error) {
		called = true
		return []float32{2.5, -1, 0, 0, 0}, nil
	})

	if _, err := srv.Classify(context.Background(), pngHeader(16000, 16000)); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
	if called {
		t.Fatal("oversized image must be rejected before inference")
	}

	if _, err := srv.Classify(context.Background(), encodePNG(t, 4, 4, color.White)); !errors.Is(err, ErrComputationFailed) {
		t.Errorf("logit outputs without softmax must fail, got %v", err)
	}
}
