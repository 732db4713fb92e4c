package xrayconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Document is a decoded engine configuration.
type Document map[string]any

// Parse decodes a JSON configuration. Numbers are kept as json.Number so that
// ports and other integers survive a round trip unchanged.
func Parse(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if doc == nil {
		return nil, errors.New("parse config: document is null")
	}
	return doc, nil
}

// Marshal encodes doc the way it is fed to the engine.
func Marshal(doc Document) ([]byte, error) {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return b, nil
}

// Clone returns a deep copy of doc.
func (doc Document) Clone() Document {
	if doc == nil {
		return nil
	}
	return cloneMap(doc)
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneMap(v)
	case Document:
		return Document(cloneMap(v))
	case []any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = cloneValue(v[i])
		}
		return out
	default:
		// Scalars (string, bool, float64, json.Number, nil) are immutable.
		return v
	}
}

func (doc Document) inbounds() []any {
	list, _ := doc["inbounds"].([]any)
	return list
}

// intValue accepts the number representations produced by encoding/json.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}
