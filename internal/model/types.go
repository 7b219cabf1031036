package model

import (
	"bytes"
	"encoding/json"
)

// DefaultTopK is the number of labels returned per image.
const DefaultTopK = 5

type Metadata struct {
	InputShape  []int64   `json:"input_shape" yaml:"input_shape"`
	OutputShape []int64   `json:"output_shape" yaml:"output_shape"`
	Classes     []string  `json:"classes" yaml:"classes"`
	ImageSize   int       `json:"image_size" yaml:"image_size"`
	Mean        []float32 `json:"mean,omitempty" yaml:"mean,omitempty"`
	Std         []float32 `json:"std,omitempty" yaml:"std,omitempty"`
	Softmax     bool      `json:"softmax" yaml:"softmax"`
	InputName   string    `json:"input_name,omitempty" yaml:"input_name,omitempty"`
	OutputName  string    `json:"output_name,omitempty" yaml:"output_name,omitempty"`
}

// Label is a single vocabulary entry with its confidence in percent.
type Label struct {
	Name       string
	Confidence float64
}

// RankedResult holds the top labels for an image, highest confidence first.
// Values are never mutated after the classifier returns them.
type RankedResult []Label

// MarshalJSON encodes the result as {label: confidence} keeping rank order.
func (r RankedResult) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, l := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(l.Name)
		if err != nil {
			return nil, err
		}
		conf, err := json.Marshal(l.Confidence)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(conf)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object written by MarshalJSON, preserving key order.
func (r *RankedResult) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return err
	}
	var out RankedResult
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var conf float64
		if err := dec.Decode(&conf); err != nil {
			return err
		}
		out = append(out, Label{Name: name, Confidence: conf})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = out
	return nil
}

// Equal reports whether both results hold the same labels in the same order.
func (r RankedResult) Equal(other RankedResult) bool {
	if len(r) != len(other) {
		return false
	}
	for i := range r {
		if r[i] != other[i] {
			return false
		}
	}
	return true
}
