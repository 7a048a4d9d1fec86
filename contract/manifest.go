package contract

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/wippyai/ffi-runtime/abi"
	"github.com/wippyai/ffi-runtime/errors"
)

// Manifest is the self-description a library embeds.
type Manifest struct {
	Library    string            `msgpack:"library"`
	Version    uint32            `msgpack:"version"`
	Symbols    []Symbol          `msgpack:"symbols"`
	Interfaces []string          `msgpack:"interfaces,omitempty"`
	Docs       map[string]string `msgpack:"docs,omitempty"`
}

// Contract returns the contract described by the manifest.
func (m *Manifest) Contract() Contract {
	return Contract{
		Library: m.Library,
		Version: m.Version,
		Symbols: m.Symbols,
	}
}

// Lookup returns the symbol named name.
func (m *Manifest) Lookup(name string) (Symbol, bool) {
	for _, s := range m.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}

// Encode serializes the manifest.
func (m *Manifest) Encode() ([]byte, error) {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseContract, errors.KindInvalidData, err, "encode manifest")
	}
	return data, nil
}

// DecodeManifest parses a manifest and checks that every symbol's checksum
// matches its signature.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(errors.PhaseContract, errors.KindInvalidData, err, "decode manifest")
	}
	for _, s := range m.Symbols {
		if Checksum(s.Signature) != s.Checksum {
			return nil, errors.New(errors.PhaseContract, errors.KindChecksumMismatch).
				Path(s.Name).
				Detail("manifest checksum %d does not match signature %q", s.Checksum, s.Signature).
				Build()
		}
	}
	return &m, nil
}

// ManifestOf reads the manifest embedded in lib.
func ManifestOf(lib abi.Library) (*Manifest, error) {
	ml, ok := lib.(abi.MetadataLibrary)
	if !ok {
		return nil, errors.NotFound(errors.PhaseContract, "manifest of library", lib.Name())
	}
	return DecodeManifest(ml.Metadata())
}
