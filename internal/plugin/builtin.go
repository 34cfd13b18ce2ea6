package plugin

import (
	"voyager/internal/compiler"
	"voyager/internal/diag"
)

// Builtin plugin tags.
const (
	TagStorage = "starknet::storage"
	TagEvent   = "starknet::event"
	TagDerive  = "derive"
)

// builtinRevision is bumped whenever a built-in expansion changes.
const builtinRevision = "1"

// Builtins returns the built-in plugins by short name.
func Builtins() map[string]Plugin {
	return map[string]Plugin{
		"storage": StoragePlugin{},
		"event":   EventPlugin{},
		"derive":  DerivePlugin{},
	}
}

// StoragePlugin generates read and write accessors for #[storage] structs.
type StoragePlugin struct{}

func (StoragePlugin) Tag() string          { return TagStorage }
func (StoragePlugin) Fingerprint() string  { return TagStorage + "@" + builtinRevision }
func (StoragePlugin) Attributes() []string { return []string{"storage"} }

func (StoragePlugin) Applies(n *compiler.Node) bool {
	return n.Kind == compiler.KindStruct && n.HasAttribute("storage")
}

func (StoragePlugin) Expand(n *compiler.Node) Expansion {
	base := snake(n.Name)
	return Expansion{
		Claims: true,
		Items: []*compiler.Node{
			{Kind: compiler.KindFunction, Name: "read_" + base},
			{Kind: compiler.KindFunction, Name: "write_" + base},
		},
	}
}

// EventPlugin generates an emitter for #[event] types.
type EventPlugin struct{}

func (EventPlugin) Tag() string          { return TagEvent }
func (EventPlugin) Fingerprint() string  { return TagEvent + "@" + builtinRevision }
func (EventPlugin) Attributes() []string { return []string{"event"} }

func (EventPlugin) Applies(n *compiler.Node) bool {
	return (n.Kind == compiler.KindStruct || n.Kind == compiler.KindEnum) && n.HasAttribute("event")
}

func (EventPlugin) Expand(n *compiler.Node) Expansion {
	return Expansion{
		Claims: true,
		Items:  []*compiler.Node{{Kind: compiler.KindFunction, Name: "emit_" + snake(n.Name)}},
	}
}

// DerivePlugin generates one impl per derived trait. It never claims.
type DerivePlugin struct{}

func (DerivePlugin) Tag() string          { return TagDerive }
func (DerivePlugin) Fingerprint() string  { return TagDerive + "@" + builtinRevision }
func (DerivePlugin) Attributes() []string { return []string{"derive"} }

func (DerivePlugin) Applies(n *compiler.Node) bool {
	return (n.Kind == compiler.KindStruct || n.Kind == compiler.KindEnum) && n.HasAttribute("derive")
}

func (DerivePlugin) Expand(n *compiler.Node) Expansion {
	var exp Expansion
	for _, a := range n.Attributes {
		if compiler.AttributeName(a) != "derive" {
			continue
		}
		traits := deriveArgs(a)
		if len(traits) == 0 {
			exp.Diagnostics = append(exp.Diagnostics, diag.Diagnostic{
				Severity: diag.SeverityWarning,
				Code:     diag.CodePlugin,
				Message:  "empty derive on " + n.Name,
			})
		}
		for _, t := range traits {
			exp.Items = append(exp.Items, &compiler.Node{Kind: compiler.KindImpl, Name: n.Name + lastSegment(t) + "Impl"})
		}
	}
	return exp
}
