package model

import (
	"reflect"
	"testing"
)

func TestCanonicalAddress(t *testing.T) {
	tests := map[string]string{
		"0x1":    "0x1",
		"0x0001": "0x1",
		"0XAbC":  "0xabc",
		" 0x00 ": "0x0",
		"abc":    "0xabc",
	}
	for in, want := range tests {
		if got := CanonicalAddress(in); got != want {
			t.Errorf("CanonicalAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPadAndValidate(t *testing.T) {
	padded := PadAddress("0x1")
	if !IsFullAddress(padded) {
		t.Fatalf("padded address %q should validate", padded)
	}
	if IsFullAddress("0xZZ") {
		t.Fatal("0xZZ must not validate")
	}
}

func TestSplitFunctionID(t *testing.T) {
	addr, mod, fn, ok := SplitFunctionID("0xA::m::withdraw")
	if !ok || addr != "0xA" || mod != "m" || fn != "withdraw" {
		t.Fatalf("unexpected split: %q %q %q %v", addr, mod, fn, ok)
	}
	if _, _, _, ok := SplitFunctionID("0xA::m"); ok {
		t.Fatal("two-part id must not split as a function")
	}
}

func TestTypeModuleIDs(t *testing.T) {
	got := TypeModuleIDs("0x1::coin::CoinInfo<0xbeef::my_coin::MyCoin>")
	want := []string{"0x1::coin", "0xbeef::my_coin"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestWorstInvariantFold(t *testing.T) {
	items := []InvariantItem{{Status: InvariantOK}, {Status: InvariantUnknown}, {Status: InvariantWarning}}
	if got := WorstInvariant(items); got != InvariantWarning {
		t.Fatalf("expected warning, got %s", got)
	}
	if got := WorstInvariant(nil); got != InvariantUnknown {
		t.Fatalf("expected unknown for empty report, got %s", got)
	}
}

func TestMaxSeverityNeverLowers(t *testing.T) {
	if MaxSeverity(ChangeCritical, ChangeInfo) != ChangeCritical {
		t.Fatal("critical must survive a lower candidate")
	}
	if MaxSeverity(ChangeMedium, ChangeHigh) != ChangeHigh {
		t.Fatal("high must replace medium")
	}
}
