package plugin

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"voyager/internal/compiler"
)

// DeclarativeConfig describes a plugin built from configuration.
type DeclarativeConfig struct {
	Tag string
	// When is a CEL expression over kind (string), name (string) and
	// attrs (list of attribute names).
	When string
	// Generate lists function names to generate; "{name}" is replaced by the
	// snake_case node name.
	Generate []string
	Claims   bool
	// Attribute is accepted by the compiler once the plugin is registered.
	Attribute string
}

// Declarative is a plugin whose applicability is a compiled CEL program.
type Declarative struct {
	cfg     DeclarativeConfig
	program cel.Program
}

func newPredicateEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("kind", cel.StringType),
		cel.Variable("name", cel.StringType),
		cel.Variable("attrs", cel.ListType(cel.StringType)),
	)
}

// NewDeclarative compiles cfg.When. Compilation errors are returned here, not
// at expansion time.
func NewDeclarative(cfg DeclarativeConfig) (*Declarative, error) {
	if strings.TrimSpace(cfg.Tag) == "" {
		return nil, fmt.Errorf("declarative plugin: tag is required")
	}
	if strings.TrimSpace(cfg.When) == "" {
		return nil, fmt.Errorf("declarative plugin %q: when expression is required", cfg.Tag)
	}
	env, err := newPredicateEnv()
	if err != nil {
		return nil, fmt.Errorf("declarative plugin %q: building CEL environment: %w", cfg.Tag, err)
	}
	ast, issues := env.Compile(cfg.When)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("declarative plugin %q: compile error: %w", cfg.Tag, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("declarative plugin %q: program construction error: %w", cfg.Tag, err)
	}
	return &Declarative{cfg: cfg, program: prg}, nil
}

func (d *Declarative) Tag() string { return d.cfg.Tag }

// Fingerprint hashes the whole configuration, so editing the predicate or the
// generated names changes the registry identity.
func (d *Declarative) Fingerprint() string {
	h := sha256.New()
	field := func(s string) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	field(d.cfg.Tag)
	field(d.cfg.When)
	field(fmt.Sprint(len(d.cfg.Generate)))
	for _, g := range d.cfg.Generate {
		field(g)
	}
	field(fmt.Sprint(d.cfg.Claims))
	field(d.cfg.Attribute)
	return d.cfg.Tag + "@" + hex.EncodeToString(h.Sum(nil))[:16]
}

func (d *Declarative) Attributes() []string {
	if d.cfg.Attribute == "" {
		return nil
	}
	return []string{d.cfg.Attribute}
}

// Applies evaluates the predicate. Evaluation errors and non-boolean results
// count as not applicable.
func (d *Declarative) Applies(n *compiler.Node) bool {
	attrs := make([]string, len(n.Attributes))
	for i, a := range n.Attributes {
		attrs[i] = compiler.AttributeName(a)
	}
	out, _, err := d.program.Eval(map[string]any{
		"kind":  string(n.Kind),
		"name":  n.Name,
		"attrs": attrs,
	})
	if err != nil {
		return false
	}
	ok, _ := out.Value().(bool)
	return ok
}

func (d *Declarative) Expand(n *compiler.Node) Expansion {
	exp := Expansion{Claims: d.cfg.Claims}
	base := snake(n.Name)
	for _, g := range d.cfg.Generate {
		exp.Items = append(exp.Items, &compiler.Node{
			Kind: compiler.KindFunction,
			Name: strings.ReplaceAll(g, "{name}", base),
		})
	}
	return exp
}
