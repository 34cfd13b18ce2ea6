// Package cairo is the reference compiler backend. It understands the item
// structure of Cairo sources (modules, functions, types, impls, attributes and
// use paths), resolves imports across crates, lowers contract modules and
// emits LLVM IR stubs for their entrypoints.
package cairo

import (
	"sort"

	"voyager/internal/compiler"
)

const (
	backendName    = "cairo-ref"
	backendVersion = "2.5.0"
)

var defaultAttributes = []string{
	"starknet::contract",
	"starknet::interface",
	"starknet::component",
	"storage",
	"event",
	"key",
	"flat",
	"nested",
	"constructor",
	"external",
	"l1_handler",
	"abi",
	"embeddable_as",
	"generate_trait",
	"derive",
	"test",
	"cfg",
	"available_gas",
	"should_panic",
	"inline",
	"feature",
}

var defaultBuiltins = []string{
	"core", "starknet", "array", "option", "result", "traits", "integer", "box",
	"zeroable", "serde", "debug", "clone", "dict", "hash", "poseidon", "pedersen",
	"ecdsa", "keccak", "num", "panics", "byte_array",
}

// Backend implements compiler.Backend.
type Backend struct {
	attributes map[string]struct{}
	builtins   map[string]struct{}
}

var _ compiler.Backend = (*Backend)(nil)

type Option func(*Backend)

// WithAttributes adds attribute names the analyzer accepts without warning.
func WithAttributes(names ...string) Option {
	return func(b *Backend) {
		for _, n := range names {
			b.attributes[compiler.AttributeName(n)] = struct{}{}
		}
	}
}

// WithBuiltinCrates adds path roots that resolve without a declared dependency.
func WithBuiltinCrates(names ...string) Option {
	return func(b *Backend) {
		for _, n := range names {
			b.builtins[n] = struct{}{}
		}
	}
}

func New(opts ...Option) *Backend {
	b := &Backend{
		attributes: make(map[string]struct{}, len(defaultAttributes)),
		builtins:   make(map[string]struct{}, len(defaultBuiltins)),
	}
	for _, a := range defaultAttributes {
		b.attributes[a] = struct{}{}
	}
	for _, c := range defaultBuiltins {
		b.builtins[c] = struct{}{}
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string    { return backendName }
func (b *Backend) Version() string { return backendVersion }

func (b *Backend) SupportedVersions() []string {
	return append([]string(nil), compiler.SupportedCairoVersions...)
}

// Attributes returns the accepted attribute names, sorted.
func (b *Backend) Attributes() []string {
	out := make([]string, 0, len(b.attributes))
	for a := range b.attributes {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
