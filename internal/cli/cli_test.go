package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	icl "voyager/internal/cli"
	"voyager/internal/runstore"
	"voyager/internal/verifier"
)

const tokenERC20 = `#[starknet::contract]
mod ERC20 {
    #[storage]
    struct Storage {
        supply: u256,
    }

    #[external(v0)]
    fn total_supply(self: @ContractState) -> u256 { 0 }
}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return b
}

// newWorkspace writes a two-package workspace: token depends on math and
// declares one contract.
func newWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Scarb.toml"), "[workspace]\nmembers = [\"crates/*\"]\n")
	writeFile(t, filepath.Join(root, "crates", "math", "Scarb.toml"), "[package]\nname = \"math\"\nversion = \"0.1.0\"\n")
	writeFile(t, filepath.Join(root, "crates", "math", "src", "lib.cairo"), "fn add() {}\n")
	writeFile(t, filepath.Join(root, "crates", "token", "Scarb.toml"),
		"[package]\nname = \"token\"\nversion = \"0.1.0\"\ncairo-version = \"2.5.0\"\n\n[dependencies]\nmath = { path = \"../math\" }\nstarknet = \">=2.5.0\"\n")
	writeFile(t, filepath.Join(root, "crates", "token", "src", "lib.cairo"), "use math::add;\nmod erc20;\n")
	writeFile(t, filepath.Join(root, "crates", "token", "src", "erc20.cairo"), tokenERC20)
	return root
}

// addBrokenApp adds bad (a syntax error) and app, which depends on bad.
func addBrokenApp(t *testing.T, root string) {
	t.Helper()
	writeFile(t, filepath.Join(root, "crates", "bad", "Scarb.toml"), "[package]\nname = \"bad\"\nversion = \"0.1.0\"\n")
	writeFile(t, filepath.Join(root, "crates", "bad", "src", "lib.cairo"), "mod broken {\n    fn f() {\n")
	writeFile(t, filepath.Join(root, "crates", "app", "Scarb.toml"),
		"[package]\nname = \"app\"\nversion = \"0.1.0\"\n\n[dependencies]\nbad = { path = \"../bad\" }\n")
	writeFile(t, filepath.Join(root, "crates", "app", "src", "lib.cairo"), "fn main() {}\n")
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := icl.Run(context.Background(), append(args, "--no-color"), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestResolve_WritesArtifactsTraceAndRunRecord(t *testing.T) {
	root := newWorkspace(t)

	code, out, errOut := run(t, "resolve", "--workdir", root, "--output-dir", "out", "--trace", "traces/t.json")
	require.Equal(t, icl.ExitSuccess, code, "stdout: %s\nstderr: %s", out, errOut)
	assert.Contains(t, out, "token::erc20::ERC20")
	assert.Contains(t, out, "READY")

	ir := readFile(t, filepath.Join(root, "out", "token", "ERC20.ll"))
	assert.NotEmpty(t, ir)
	manifest := readFile(t, filepath.Join(root, "out", "token", "ERC20.contract.json"))
	assert.Contains(t, string(manifest), `"source_file": "src/erc20.cairo"`)

	var tr struct {
		GraphHash string `json:"graphHash"`
		Events    []struct {
			Kind  string `json:"kind"`
			Crate string `json:"crate"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(readFile(t, filepath.Join(root, "traces", "t.json")), &tr))
	assert.NotEmpty(t, tr.GraphHash)
	assert.NotEmpty(t, tr.Events)

	st, err := runstore.NewStore(root)
	require.NoError(t, err)
	runs, err := st.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runstore.StatusSucceeded, runs[0].Status)
	assert.Equal(t, []string{"math", "token"}, runs[0].Summary.Ready)
}

func TestResolve_IdenticalRunsIdenticalOutputs(t *testing.T) {
	root := newWorkspace(t)
	args := []string{"resolve", "--workdir", root, "--no-cache", "--output-dir", "out", "--trace", "trace.json"}

	code, _, errOut := run(t, args...)
	require.Equal(t, icl.ExitSuccess, code, errOut)
	ir1 := readFile(t, filepath.Join(root, "out", "token", "ERC20.ll"))
	tr1 := readFile(t, filepath.Join(root, "trace.json"))

	code, _, errOut = run(t, append(args, "--workers", "4")...)
	require.Equal(t, icl.ExitSuccess, code, errOut)
	ir2 := readFile(t, filepath.Join(root, "out", "token", "ERC20.ll"))
	tr2 := readFile(t, filepath.Join(root, "trace.json"))

	assert.Equal(t, string(ir1), string(ir2))
	assert.Equal(t, string(tr1), string(tr2))
}

func TestResolve_SecondRunRestoresFromCache(t *testing.T) {
	root := newWorkspace(t)
	code, _, errOut := run(t, "resolve", "--workdir", root)
	require.Equal(t, icl.ExitSuccess, code, errOut)

	code, _, errOut = run(t, "resolve", "--workdir", root, "--trace", "trace.json")
	require.Equal(t, icl.ExitSuccess, code, errOut)
	tr := string(readFile(t, filepath.Join(root, "trace.json")))
	assert.Contains(t, tr, `"kind":"CrateRestored","crate":"math"`)
	assert.Contains(t, tr, `"kind":"CrateRestored","crate":"token"`)
	assert.NotContains(t, tr, "CrateInvalidated")

	st, err := runstore.NewStore(root)
	require.NoError(t, err)
	runs, err := st.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.NotNil(t, runs[1].PreviousRunID)
	assert.Equal(t, runs[0].RunID, *runs[1].PreviousRunID)
}

func TestResolve_FailedCrateBlocksDependents(t *testing.T) {
	root := newWorkspace(t)
	addBrokenApp(t, root)

	code, out, _ := run(t, "resolve", "--workdir", root, "--no-cache")
	assert.Equal(t, icl.ExitResolutionFailure, code)
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "BLOCKED")
	assert.Contains(t, out, "token::erc20::ERC20")

	st, err := runstore.NewStore(root)
	require.NoError(t, err)
	latest, ok, err := st.LatestRun()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, runstore.StatusFailed, latest.Status)
	assert.Equal(t, []string{"bad"}, latest.Summary.Failed)
	assert.Equal(t, []string{"app"}, latest.Summary.Blocked)

	f, err := st.LoadFailure(latest.RunID)
	require.NoError(t, err)
	assert.Equal(t, runstore.FailureClassResolution, f.Class)

	code, out, _ = run(t, "runs", "show", latest.RunID, "--workdir", root)
	require.Equal(t, icl.ExitSuccess, code)
	assert.Contains(t, out, `"failure_class": "resolution"`)
}

func TestResolve_JSONReport(t *testing.T) {
	root := newWorkspace(t)
	code, out, errOut := run(t, "resolve", "--workdir", root, "--no-cache", "--json")
	require.Equal(t, icl.ExitSuccess, code, errOut)

	var rep struct {
		Order     []string          `json:"order"`
		States    map[string]string `json:"states"`
		Artifacts []struct {
			Path string `json:"path"`
		} `json:"artifacts"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, []string{"math", "token"}, rep.Order)
	assert.Equal(t, "READY", rep.States["token"])
	require.Len(t, rep.Artifacts, 1)
	assert.Equal(t, "token::erc20::ERC20", rep.Artifacts[0].Path)
}

func TestExitCodes_WorkspaceAndConfigErrors(t *testing.T) {
	cyclic := t.TempDir()
	writeFile(t, filepath.Join(cyclic, "Scarb.toml"), "[workspace]\nmembers = [\"a\", \"b\"]\n")
	writeFile(t, filepath.Join(cyclic, "a", "Scarb.toml"), "[package]\nname = \"a\"\nversion = \"0.1.0\"\n\n[dependencies]\nb = { path = \"../b\" }\n")
	writeFile(t, filepath.Join(cyclic, "a", "src", "lib.cairo"), "")
	writeFile(t, filepath.Join(cyclic, "b", "Scarb.toml"), "[package]\nname = \"b\"\nversion = \"0.1.0\"\n\n[dependencies]\na = { path = \"../a\" }\n")
	writeFile(t, filepath.Join(cyclic, "b", "src", "lib.cairo"), "")

	code, _, errOut := run(t, "resolve", "--workdir", cyclic)
	assert.Equal(t, icl.ExitConfigError, code)
	assert.Contains(t, errOut, "dependency cycle")

	st, err := runstore.NewStore(cyclic)
	require.NoError(t, err)
	latest, ok, err := st.LatestRun()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, runstore.StatusErrored, latest.Status)
	f, err := st.LoadFailure(latest.RunID)
	require.NoError(t, err)
	assert.Equal(t, "GraphCycle", f.Code)

	code, _, _ = run(t, "graph", "--workdir", cyclic)
	assert.Equal(t, icl.ExitConfigError, code)

	code, _, _ = run(t, "resolve", "--workdir", t.TempDir())
	assert.Equal(t, icl.ExitConfigError, code, "missing manifest")

	badCfg := newWorkspace(t)
	writeFile(t, filepath.Join(badCfg, "voyager.yaml"), "workers: many\n")
	code, _, _ = run(t, "resolve", "--workdir", badCfg)
	assert.Equal(t, icl.ExitConfigError, code)
}

func TestExitCodes_InvalidInvocation(t *testing.T) {
	root := newWorkspace(t)
	cases := [][]string{
		{"resolve", "--workdir", root, "--bogus"},
		{"resolve", "--workdir", root, "extra"},
		{"frobnicate"},
		{"resolve", "--workdir", root, "--log-level", "loud"},
		{"verify", "--workdir", root},
		{"runs", "show", "--workdir", root},
		{"runs", "show", "nope", "--workdir", root},
	}
	for _, args := range cases {
		code, _, _ := run(t, args...)
		assert.Equal(t, icl.ExitInvalidInvocation, code, strings.Join(args, " "))
	}
}

func TestGraph_JSON(t *testing.T) {
	root := newWorkspace(t)
	code, out, errOut := run(t, "graph", "--workdir", root, "--json")
	require.Equal(t, icl.ExitSuccess, code, errOut)

	var g struct {
		Order  []string   `json:"order"`
		Levels [][]string `json:"levels"`
		Edges  []struct {
			Dependent  string `json:"dependent"`
			Dependency string `json:"dependency"`
			Kind       string `json:"kind"`
		} `json:"edges"`
		Hash string `json:"hash"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &g))
	assert.Equal(t, []string{"math", "token"}, g.Order)
	assert.Equal(t, [][]string{{"math"}, {"token"}}, g.Levels)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, "token", g.Edges[0].Dependent)
	assert.Equal(t, "normal", g.Edges[0].Kind)
	assert.NotEmpty(t, g.Hash)

	code, out, _ = run(t, "graph", "--workdir", root)
	require.Equal(t, icl.ExitSuccess, code)
	assert.Contains(t, out, "graph hash "+g.Hash)
}

func TestVersions(t *testing.T) {
	code, out, _ := run(t, "versions", "--workdir", t.TempDir())
	require.Equal(t, icl.ExitSuccess, code)
	assert.Contains(t, out, "cairo: 2.5.0")
	assert.Contains(t, out, "scarb: 2.5.0")
}

func TestRuns_EmptyAndJSON(t *testing.T) {
	root := newWorkspace(t)
	code, out, _ := run(t, "runs", "--workdir", root)
	require.Equal(t, icl.ExitSuccess, code)
	assert.Contains(t, out, "no runs recorded")

	code, _, _ = run(t, "resolve", "--workdir", root, "--no-cache")
	require.Equal(t, icl.ExitSuccess, code)

	code, out, _ = run(t, "runs", "--workdir", root, "--json")
	require.Equal(t, icl.ExitSuccess, code)
	var runs []runstore.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, runstore.ModeClean, runs[0].Mode)
}

func TestVerify_SubmitsAndPolls(t *testing.T) {
	root := newWorkspace(t)

	var form map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/class/0xabc", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/class-verify/0xabc", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		form = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			form[k] = v[0]
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"job_id": "job-7"})
	})
	mux.HandleFunc("/class-verify/job/job-7", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(verifier.Job{JobID: "job-7", Status: verifier.StatusSuccess, ClassHash: "0xabc"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	t.Setenv(verifier.EnvCustomInternalURL, srv.URL)
	t.Setenv(verifier.EnvCustomPublicURL, srv.URL)

	code, out, errOut := run(t, "verify", "--workdir", root, "--network", "custom",
		"--class-hash", "0xabc", "--contract", "ERC20", "--license", "Apache-2.0")
	require.Equal(t, icl.ExitSuccess, code, "stdout: %s\nstderr: %s", out, errOut)
	assert.Contains(t, out, "job-7")
	assert.Contains(t, out, "verified")

	assert.Equal(t, "Apache-2.0", form["license"])
	assert.Equal(t, "ERC20", form["name"])
	assert.Equal(t, "src/erc20.cairo", form["contract_file"])
	assert.Equal(t, "2.5.0", form["compiler_version"])
	assert.Contains(t, form["files__Scarb.toml"], `name = "token"`)
	assert.Equal(t, tokenERC20, form["files__src/erc20.cairo"])
	assert.Contains(t, form, "files__src/lib.cairo")

	code, _, _ = run(t, "verify", "--workdir", root, "--network", "custom",
		"--class-hash", "0xmissing", "--contract", "ERC20")
	assert.Equal(t, icl.ExitInvalidInvocation, code)

	code, _, _ = run(t, "verify", "--workdir", root, "--network", "custom",
		"--class-hash", "0xabc", "--contract", "Nope")
	assert.Equal(t, icl.ExitInvalidInvocation, code)
}
