package contract

import (
	"errors"
	"strings"
	"testing"

	"github.com/wippyai/ffi-runtime/abi"
	ffierrors "github.com/wippyai/ffi-runtime/errors"
)

type fakeLib struct {
	abi.Library
	version   uint32
	checksums map[string]uint16
	metadata  []byte
}

func (l *fakeLib) Name() string            { return "calc" }
func (l *fakeLib) ContractVersion() uint32 { return l.version }
func (l *fakeLib) Metadata() []byte        { return l.metadata }

func (l *fakeLib) Checksum(symbol string) (uint16, bool) {
	c, ok := l.checksums[symbol]
	return c, ok
}

var calcContract = Contract{
	Library: "calc",
	Version: 3,
	Symbols: []Symbol{
		NewSymbol("ffi_calc_fn_add", "fn add(a: s64, b: s64) -> s64"),
		NewSymbol("ffi_calc_fn_div", "fn div(a: s64, b: s64) -> result<s64, math-error>"),
	},
}

func libFor(c Contract) *fakeLib {
	l := &fakeLib{version: c.Version, checksums: map[string]uint16{}}
	for _, s := range c.Symbols {
		l.checksums[s.Name] = s.Checksum
	}
	return l
}

func TestChecksum(t *testing.T) {
	a := Checksum("fn add(a: s64, b: s64) -> s64")
	if a != Checksum("fn add(a: s64, b: s64) -> s64") {
		t.Error("checksum must be deterministic")
	}
	if a == Checksum("fn add(a: s32, b: s32) -> s32") {
		t.Error("different signatures should differ")
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(l *fakeLib)
		contains []string
	}{
		{name: "match", mutate: func(*fakeLib) {}},
		{
			name:     "version",
			mutate:   func(l *fakeLib) { l.version = 4 },
			contains: []string{"contract version", "expect 3", "reports 4"},
		},
		{
			name:     "missing symbol",
			mutate:   func(l *fakeLib) { delete(l.checksums, "ffi_calc_fn_div") },
			contains: []string{"missing 1 symbol(s)", "ffi_calc_fn_div"},
		},
		{
			name: "aggregated",
			mutate: func(l *fakeLib) {
				l.version = 1
				l.checksums["ffi_calc_fn_add"]++
				delete(l.checksums, "ffi_calc_fn_div")
			},
			contains: []string{"contract version", "missing 1 symbol(s)", "1 checksum mismatch(es)", "ffi_calc_fn_add"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lib := libFor(calcContract)
			tt.mutate(lib)
			err := Verify(lib, calcContract)
			if len(tt.contains) == 0 {
				if err != nil {
					t.Fatalf("Verify = %v", err)
				}
				return
			}

			var me *ffierrors.MismatchError
			if !errors.As(err, &me) {
				t.Fatalf("err = %v, want *MismatchError", err)
			}
			if !errors.Is(err, &ffierrors.Error{Phase: ffierrors.PhaseContract, Kind: ffierrors.KindContractMismatch}) {
				t.Error("mismatch should match the contract error kind")
			}
			for _, s := range tt.contains {
				if !strings.Contains(err.Error(), s) {
					t.Errorf("%q does not contain %q", err.Error(), s)
				}
			}
		})
	}
}

func TestManifest(t *testing.T) {
	m := &Manifest{
		Library:    "calc",
		Version:    3,
		Symbols:    calcContract.Symbols,
		Interfaces: []string{"Logger"},
		Docs:       map[string]string{"ffi_calc_fn_add": "adds"},
	}
	data, err := m.Encode()
	if err != nil {
		t.Fatal(err)
	}

	lib := libFor(calcContract)
	lib.metadata = data
	got, err := ManifestOf(lib)
	if err != nil {
		t.Fatal(err)
	}
	if got.Library != "calc" || got.Version != 3 || len(got.Symbols) != 2 {
		t.Fatalf("manifest = %+v", got)
	}
	if s, ok := got.Lookup("ffi_calc_fn_div"); !ok || s.Signature != calcContract.Symbols[1].Signature {
		t.Errorf("Lookup = %+v, %v", s, ok)
	}
	if got.Docs["ffi_calc_fn_add"] != "adds" {
		t.Errorf("docs = %v", got.Docs)
	}
	if err := Verify(lib, got.Contract()); err != nil {
		t.Errorf("manifest contract does not verify: %v", err)
	}
}

func TestManifestErrors(t *testing.T) {
	if _, err := DecodeManifest([]byte{0xc1}); !ffierrors.IsInternal(err) {
		t.Errorf("garbage = %v, want internal error", err)
	}

	tampered := &Manifest{Library: "calc", Symbols: []Symbol{{Name: "f", Signature: "fn f()", Checksum: Checksum("fn g()")}}}
	data, err := tampered.Encode()
	if err != nil {
		t.Fatal(err)
	}
	_, err = DecodeManifest(data)
	if !errors.Is(err, &ffierrors.Error{Phase: ffierrors.PhaseContract, Kind: ffierrors.KindChecksumMismatch}) {
		t.Errorf("tampered = %v, want checksum mismatch", err)
	}

	type plain struct{ abi.Library }
	if _, err := ManifestOf(plain{&fakeLib{}}); err == nil {
		t.Error("library without metadata should fail")
	}
}
