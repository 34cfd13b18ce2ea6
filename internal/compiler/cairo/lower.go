package cairo

import (
	"voyager/internal/compiler"
	"voyager/internal/diag"
)

const contractAttribute = "starknet::contract"

// Lower flattens the module tree into one LoweredItem per module and per
// top-level function. Modules carrying #[starknet::contract] get the contract
// marker together with their entrypoints, events and storage structs.
func (b *Backend) Lower(model *compiler.SemanticModel) (*compiler.LoweredCrate, []diag.Diagnostic) {
	out := &compiler.LoweredCrate{Crate: model.Crate}
	var diags []diag.Diagnostic

	var walk func(items []*compiler.Item, top bool)
	walk = func(items []*compiler.Item, top bool) {
		for _, it := range items {
			n := it.Node
			switch {
			case n.Kind == compiler.KindModule:
				li := compiler.LoweredItem{
					Path:       it.Path,
					Name:       n.Name,
					Kind:       n.Kind,
					File:       it.File,
					Attributes: append([]string(nil), n.Attributes...),
				}
				if n.HasAttribute(contractAttribute) {
					li.Markers.Contract = true
					collectContract(&li, it.Children, false)
					if len(li.Entrypoints) == 0 {
						diags = append(diags, diag.Warningf(model.Crate, it.File, n.Span, diag.CodeCodegen, "contract %s has no external entrypoints", n.Name))
					}
				}
				out.Items = append(out.Items, li)
				walk(it.Children, false)
			case n.Kind == compiler.KindFunction && top:
				out.Items = append(out.Items, compiler.LoweredItem{
					Path:       it.Path,
					Name:       n.Name,
					Kind:       n.Kind,
					File:       it.File,
					Attributes: append([]string(nil), n.Attributes...),
				})
			}
		}
	}
	walk(model.Items, true)
	return out, diags
}

// collectContract gathers the contract surface of a module without descending
// into nested modules. exposed is true inside an impl whose functions are all
// part of the ABI.
func collectContract(li *compiler.LoweredItem, items []*compiler.Item, exposed bool) {
	for _, it := range items {
		n := it.Node
		switch n.Kind {
		case compiler.KindFunction:
			switch {
			case n.HasAttribute("constructor"):
				li.Entrypoints = append(li.Entrypoints, "constructor:"+n.Name)
			case n.HasAttribute("l1_handler"):
				li.Entrypoints = append(li.Entrypoints, "l1_handler:"+n.Name)
			case exposed || n.HasAttribute("external"):
				li.Entrypoints = append(li.Entrypoints, "function:"+n.Name)
			}
		case compiler.KindImpl:
			collectContract(li, it.Children, exposed || n.HasAttribute("abi") || n.HasAttribute("external"))
		case compiler.KindStruct, compiler.KindEnum:
			if n.HasAttribute("storage") {
				li.Storage = append(li.Storage, n.Name)
			}
			if n.HasAttribute("event") {
				li.Events = append(li.Events, n.Name)
			}
		}
	}
}
