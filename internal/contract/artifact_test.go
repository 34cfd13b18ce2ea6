package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voyager/internal/compiler"
	"voyager/internal/compiler/cairo"
)

func TestExtract_OnlyContractMarkedItems(t *testing.T) {
	lowered := &compiler.LoweredCrate{
		Crate: "token",
		Items: []compiler.LoweredItem{
			{Path: "token::util", Name: "util", Kind: compiler.KindModule, File: "src/util.cairo"},
			{Path: "token::vault::Vault", Name: "Vault", Kind: compiler.KindModule, File: "src/vault.cairo",
				Markers: compiler.Markers{Contract: true}, Entrypoints: []string{"function:deposit"}},
			{Path: "token::erc20::ERC20", Name: "ERC20", Kind: compiler.KindModule, File: "src/erc20.cairo",
				Markers: compiler.Markers{Contract: true}, Entrypoints: []string{"function:transfer"}, Events: []string{"Event"}},
		},
	}

	arts, diags := NewExtractor(cairo.New()).Extract("token", lowered)
	require.Empty(t, diags)
	require.Len(t, arts, 2)

	assert.Equal(t, "ERC20", arts[0].Name)
	assert.Equal(t, "Vault", arts[1].Name)
	assert.Equal(t, "token", arts[0].Package)
	assert.Equal(t, "src/erc20.cairo", arts[0].SourceFile)
	assert.Equal(t, []string{"function:transfer", "event:Event"}, arts[0].ABI)

	sum := sha256.Sum256(arts[0].Payload)
	assert.Equal(t, hex.EncodeToString(sum[:]), arts[0].Hash)
}

func TestExtract_Deterministic(t *testing.T) {
	lowered := &compiler.LoweredCrate{
		Crate: "c",
		Items: []compiler.LoweredItem{{Path: "c::K", Name: "K", Markers: compiler.Markers{Contract: true}, Entrypoints: []string{"function:f"}}},
	}
	e := NewExtractor(cairo.New())
	a, _ := e.Extract("c", lowered)
	b, _ := e.Extract("c", lowered)
	require.Len(t, a, 1)
	assert.Equal(t, a[0].Hash, b[0].Hash)
}

func TestExtract_NilCrate(t *testing.T) {
	arts, diags := NewExtractor(cairo.New()).Extract("c", nil)
	assert.Nil(t, arts)
	assert.Nil(t, diags)
}

func TestSortArtifacts_ByRankThenName(t *testing.T) {
	as := []Artifact{
		{Crate: "app", Name: "A"},
		{Crate: "base", Name: "Z"},
		{Crate: "base", Name: "B"},
	}
	rank := map[string]int{"base": 0, "app": 1}
	SortArtifacts(as, func(c string) int { return rank[c] })
	var got []string
	for _, a := range as {
		got = append(got, a.Crate+"/"+a.Name)
	}
	assert.Equal(t, []string{"base/B", "base/Z", "app/A"}, got)
}
