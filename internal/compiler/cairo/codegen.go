package cairo

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"

	"voyager/internal/compiler"
	"voyager/internal/diag"
)

// Codegen emits an LLVM module with one external function per entrypoint,
// each returning the entrypoint selector, plus a global holding the contract
// path. The ABI lists entrypoints followed by events.
func (b *Backend) Codegen(crate string, item compiler.LoweredItem) (*compiler.Output, []diag.Diagnostic) {
	if !item.Markers.Contract {
		return nil, []diag.Diagnostic{diag.Errorf(crate, item.File, diag.Span{}, diag.CodeCodegen, "%s is not a contract", item.Path)}
	}

	m := ir.NewModule()
	m.SourceFilename = item.File
	name := constant.NewCharArrayFromString(item.Path + "\x00")
	g := m.NewGlobalDef(mangle(item.Path, "name"), name)
	g.Immutable = true

	abi := make([]string, 0, len(item.Entrypoints)+len(item.Events))
	for _, ep := range item.Entrypoints {
		_, fn, _ := strings.Cut(ep, ":")
		f := m.NewFunc(mangle(item.Path, fn), types.I64)
		f.Linkage = enum.LinkageExternal
		entry := f.NewBlock("entry")
		entry.NewRet(constant.NewInt(types.I64, Selector(fn)))
		abi = append(abi, ep)
	}
	for _, ev := range item.Events {
		abi = append(abi, "event:"+ev)
	}
	return &compiler.Output{ABI: abi, Payload: []byte(m.String())}, nil
}

func mangle(path, name string) string {
	return strings.ReplaceAll(path, "::", "__") + "__" + name
}

// Selector derives a stable non-negative 63-bit entrypoint selector.
func Selector(name string) int64 {
	sum := sha256.Sum256([]byte(name))
	return int64(binary.BigEndian.Uint64(sum[:8]) & 0x7fffffffffffffff)
}
