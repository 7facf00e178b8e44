package behavior

import (
	"supravault/internal/core/errors"
	"testing"
)

func TestDecodeEnvelopeShapes(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		shape Shape
		count int
	}{
		{"bare array", `[{"hash":"0x1"},{"hash":"0x2"}]`, ShapeArray, 2},
		{"record", `{"record":[{"hash":"0x1"}]}`, ShapeRecord, 1},
		{"transactions", `{"transactions":[]}`, ShapeRecord, 0},
		{"nested data", `{"data":{"transactions":[{"hash":"0x1"}]}}`, ShapeNested, 1},
		{"nested result", `{"result":{"record":[{"hash":"0x1"},{"hash":"0x2"},{"hash":"0x3"}]}}`, ShapeNested, 3},
		{"graphql", `{"data":{"account_transactions":[{"hash":"0x9"}]}}`, ShapeGraphQL, 1},
		{"non-object items skipped", `[{"hash":"0x1"}, 7, "x"]`, ShapeArray, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tt.body))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if env.Shape != tt.shape {
				t.Fatalf("shape %s, want %s", env.Shape, tt.shape)
			}
			if len(env.Items) != tt.count {
				t.Fatalf("items %d, want %d", len(env.Items), tt.count)
			}
		})
	}
}

func TestDecodeEnvelopeRejectsUnknown(t *testing.T) {
	for _, body := range []string{`{"status":"ok"}`, `not json`, `null`, `42`} {
		if _, err := DecodeEnvelope([]byte(body)); !errors.IsCode(err, errors.CodeDecode) {
			t.Fatalf("expected DECODE_ERROR for %q, got %v", body, err)
		}
	}
}

func TestParseTransactionPayloadShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"payload.function", `[{"payload":{"function":"0xA::m::swap<0x1::coin::T>"}}]`, "0xA::m::swap"},
		{"entry_function_payload", `[{"payload":{"entry_function_payload":{"function":"0xa::m::f"}}}]`, "0xa::m::f"},
		{"Move", `[{"payload":{"Move":{"type":"entry_function_payload","function":"0xb::n::g"}}}]`, "0xb::n::g"},
		{"EntryFunction parts", `[{"payload":{"EntryFunction":{"module_address":"0xc","module_name":"o","function_name":"h"}}}]`, "0xc::o::h"},
		{"EntryFunction module object", `[{"payload":{"EntryFunction":{"module":{"address":"0xd","name":"p"},"function":"i"}}}]`, "0xd::p::i"},
		{"indexer id", `[{"entry_function_id_str":"0xe::q::j"}]`, "0xe::q::j"},
		{"script", `[{"payload":{"type":"script_payload","code":"0xdead"}}]`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tt.body))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			tx := parseTransaction(env.Items[0])
			got := ""
			if len(tx.Functions) > 0 {
				got = tx.Functions[0]
			}
			if got != tt.want {
				t.Fatalf("function %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseTransactionCoercesFields(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`[
		{"hash":"0x1","timestamp":"1700000000000000","block_height":12},
		{"txn_hash":"0x2","header":{"timestamp":1700000000000001},"height":"13"},
		{"hash":"0x3","timestamp":"2024-01-02T03:04:05Z"},
		{"hash":"0x4","timestamp":"soon"}
	]`))
	if err != nil {
		t.Fatal(err)
	}
	first := parseTransaction(env.Items[0])
	if !first.HasTimestamp || first.Timestamp != 1700000000000000 || first.Height != 12 {
		t.Fatalf("unexpected first tx %+v", first)
	}
	second := parseTransaction(env.Items[1])
	if second.Hash != "0x2" || second.Timestamp != 1700000000000001 || second.Height != 13 {
		t.Fatalf("unexpected second tx %+v", second)
	}
	third := parseTransaction(env.Items[2])
	if !third.HasTimestamp || third.Timestamp <= 0 {
		t.Fatalf("expected RFC3339 timestamp coerced, got %+v", third)
	}
	fourth := parseTransaction(env.Items[3])
	if fourth.HasTimestamp {
		t.Fatalf("garbage timestamp must read as missing, got %d", fourth.Timestamp)
	}
}
