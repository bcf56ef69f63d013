package vision

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ClassificationResult is the normalized shape we want from the model.
// It is always structurally complete: missing model output is replaced with
// safe defaults, never a missing field.
type ClassificationResult struct {
	DocumentType string `json:"document_type"`
	Reasoning    string `json:"reasoning"`
	Fields       Fields `json:"extracted_textfields"`
}

// DefaultResult is the safe fallback when model output cannot be parsed.
func DefaultResult(reason string) ClassificationResult {
	return ClassificationResult{
		DocumentType: "unknown",
		Reasoning:    reason,
		Fields:       Fields{},
	}
}

// Field is one extracted text field.
type Field struct {
	Name  string
	Value string
}

// Fields preserves the model's field order, which encoding/json maps would
// alphabetize. Serializes as a JSON object.
type Fields []Field

func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(kv.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("extracted_textfields: expected object, got %v", tok)
	}

	out := Fields{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("extracted_textfields: non-string key %v", keyTok)
		}
		var val any
		if err := dec.Decode(&val); err != nil {
			return err
		}
		out = append(out, Field{Name: key, Value: stringify(val)})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*f = out
	return nil
}

// stringify coerces arbitrary model values into the string field map the API
// promises. Nested structures are re-encoded compactly.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
