package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadMetadata reads the model description next to the exported model.
// Files ending in .yaml or .yml are parsed as YAML, anything else as JSON.
func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta Metadata
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &meta)
	default:
		err = json.Unmarshal(raw, &meta)
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}

	if err := meta.Validate(); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

func (m Metadata) Validate() error {
	if len(m.Classes) == 0 {
		return fmt.Errorf("metadata: no classes")
	}
	if m.ImageSize <= 0 {
		return fmt.Errorf("metadata: image_size must be positive, got %d", m.ImageSize)
	}
	if len(m.Mean) != 0 && len(m.Mean) != 3 {
		return fmt.Errorf("metadata: mean needs 3 values, got %d", len(m.Mean))
	}
	if len(m.Std) != 0 && len(m.Std) != 3 {
		return fmt.Errorf("metadata: std needs 3 values, got %d", len(m.Std))
	}
	for _, v := range m.Std {
		if v == 0 {
			return fmt.Errorf("metadata: std values must be non-zero")
		}
	}
	return nil
}

// CheckTopK fails when the vocabulary cannot fill k labels per image.
func (m Metadata) CheckTopK(k int) error {
	if k <= 0 {
		return fmt.Errorf("metadata: top_k must be positive, got %d", k)
	}
	if len(m.Classes) < k {
		return fmt.Errorf("metadata: %d classes cannot fill top_k=%d", len(m.Classes), k)
	}
	return nil
}

// InputSize is the number of float32 values the model expects per image.
func (m Metadata) InputSize() int {
	if len(m.InputShape) == 0 {
		return 3 * m.ImageSize * m.ImageSize
	}
	size := 1
	for _, dim := range m.InputShape {
		size *= int(dim)
	}
	return size
}

func (m Metadata) inputName() string {
	if m.InputName == "" {
		return "input"
	}
	return m.InputName
}

func (m Metadata) outputName() string {
	if m.OutputName == "" {
		return "output"
	}
	return m.OutputName
}
