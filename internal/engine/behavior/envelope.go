package behavior

import (
	"bytes"
	"encoding/json"
	"supravault/internal/core/errors"
)

// Shape tags the envelope variant a transaction list arrived in.
type Shape string

const (
	ShapeArray   Shape = "array"
	ShapeRecord  Shape = "record"
	ShapeNested  Shape = "nested"
	ShapeGraphQL Shape = "graphql"
)

// Envelope is the canonical form every provider response is normalized into
// before any transaction field is read.
type Envelope struct {
	Shape Shape
	Items []map[string]any
}

var recordKeys = []string{"record", "transactions", "data", "items", "result"}

// DecodeEnvelope accepts a bare array, a record-shaped object
// ({"record": [...]}, {"transactions": [...]}, ...) or a nested one
// ({"data": {"transactions": [...]}}, GraphQL {"data": {"account_transactions": [...]}}).
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return Envelope{}, errors.Wrap(err, errors.CodeDecode, "transaction envelope is not JSON")
	}

	switch t := v.(type) {
	case []any:
		return Envelope{Shape: ShapeArray, Items: objects(t)}, nil
	case map[string]any:
		for _, k := range recordKeys {
			if arr, ok := t[k].([]any); ok {
				return Envelope{Shape: ShapeRecord, Items: objects(arr)}, nil
			}
		}
		if data, ok := t["data"].(map[string]any); ok {
			for _, k := range []string{"account_transactions", "user_transactions"} {
				if arr, ok := data[k].([]any); ok {
					return Envelope{Shape: ShapeGraphQL, Items: objects(arr)}, nil
				}
			}
		}
		for _, outer := range []string{"data", "result"} {
			inner, ok := t[outer].(map[string]any)
			if !ok {
				continue
			}
			for _, k := range recordKeys {
				if arr, ok := inner[k].([]any); ok {
					return Envelope{Shape: ShapeNested, Items: objects(arr)}, nil
				}
			}
		}
	}
	return Envelope{}, errors.New(errors.CodeDecode, "unrecognized transaction envelope")
}

func objects(arr []any) []map[string]any {
	out := make([]map[string]any, 0, len(arr))
	for _, item := range arr {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}
