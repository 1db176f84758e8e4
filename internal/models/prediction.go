package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Feature is one named statistic returned by the prediction service.
type Feature struct {
	Name  string  `json:"name" msgpack:"name"`
	Value float64 `json:"value" msgpack:"value"`
}

// FeatureMap maps feature names to values. Insertion order is display order,
// so it is kept as a slice and encoded to JSON as an ordered object.
type FeatureMap []Feature

// Get returns the value stored under name.
func (fm FeatureMap) Get(name string) (float64, bool) {
	for _, f := range fm {
		if f.Name == name {
			return f.Value, true
		}
	}
	return 0, false
}

// Names returns the feature names in display order.
func (fm FeatureMap) Names() []string {
	names := make([]string, len(fm))
	for i, f := range fm {
		names[i] = f.Name
	}
	return names
}

// MarshalJSON encodes the map as a JSON object preserving order.
func (fm FeatureMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fm {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("feature %q: %w", f.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object of numbers, keeping key order.
// Any non-numeric value (including null) is rejected. A repeated key keeps
// its first position and its last value.
func (fm *FeatureMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("features: expected object, got %v", tok)
	}

	out := make(FeatureMap, 0)
	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("features: expected key, got %v", tok)
		}

		tok, err = dec.Token()
		if err != nil {
			return err
		}
		num, ok := tok.(json.Number)
		if !ok {
			return fmt.Errorf("features: value for %q is not a number", name)
		}
		v, err := num.Float64()
		if err != nil {
			return fmt.Errorf("features: value for %q: %w", name, err)
		}

		if i, dup := index[name]; dup {
			out[i].Value = v
			continue
		}
		index[name] = len(out)
		out = append(out, Feature{Name: name, Value: v})
	}

	if _, err := dec.Token(); err != nil {
		return err
	}

	*fm = out
	return nil
}

// Prediction is the decoded response of the prediction service.
type Prediction struct {
	Features FeatureMap `json:"features"`
	Label    string     `json:"label"`
}

// AnalysisResult is the exported form of a COMPLETE session.
type AnalysisResult struct {
	SessionID   string     `json:"sessionId" msgpack:"sessionId"`
	RunID       string     `json:"runId" msgpack:"runId"`
	FileName    string     `json:"fileName" msgpack:"fileName"`
	SampleCount int        `json:"sampleCount" msgpack:"sampleCount"`
	Transposed  bool       `json:"transposed" msgpack:"transposed"`
	Label       string     `json:"label" msgpack:"label"`
	Features    FeatureMap `json:"features" msgpack:"features"`
}
