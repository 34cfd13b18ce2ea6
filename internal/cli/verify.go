package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"voyager/internal/compiler"
	"voyager/internal/contract"
	"voyager/internal/verifier"
	"voyager/internal/workspace"
)

type verifyOptions struct {
	network   string
	classHash string
	contract  string
	license   string
	name      string
	noWait    bool
}

func (a *App) newVerifyCommand() *cobra.Command {
	var o verifyOptions
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Submit a resolved contract for class verification",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runVerify(cmd.Context(), o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.network, "network", "", "mainnet, sepolia, local or custom (default from config)")
	f.StringVar(&o.classHash, "class-hash", "", "declared class hash to verify")
	f.StringVar(&o.contract, "contract", "", "contract name or path, e.g. ERC20 or token::erc20::ERC20")
	f.StringVar(&o.license, "license", "MIT", "SPDX license identifier")
	f.StringVar(&o.name, "name", "", "display name (defaults to the contract name)")
	f.BoolVar(&o.noWait, "no-wait", false, "return after submitting the job")
	return cmd
}

func (a *App) runVerify(ctx context.Context, o verifyOptions) error {
	if o.classHash == "" {
		return invalidInvocationf("--class-hash is required")
	}
	if o.contract == "" {
		return invalidInvocationf("--contract is required")
	}
	netName := o.network
	if netName == "" {
		netName = a.cfg.Verifier.Network
	}
	network, err := verifier.ParseNetwork(netName)
	if err != nil {
		return invalidInvocationf("--network: %v", err)
	}
	client, err := verifier.New(network,
		verifier.WithPollInterval(a.cfg.Verifier.PollInterval),
		verifier.WithMaxRetries(a.cfg.Verifier.MaxRetries),
		verifier.WithLogger(a.log()),
	)
	if err != nil {
		return &InvocationError{ExitCode: ExitConfigError, Err: err}
	}

	s, err := a.openSession(ctx, sessionOptions{workers: -1})
	if err != nil {
		return err
	}
	defer s.close()
	rep, err := s.resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	if err := rep.Err(); err != nil {
		return err
	}
	art, err := findArtifact(rep.Artifacts, o.contract)
	if err != nil {
		return err
	}
	req, err := dispatchRequest(s.ws, art, o)
	if err != nil {
		return err
	}

	exists, err := client.ClassExists(ctx, o.classHash)
	if err != nil {
		return err
	}
	if !exists {
		return invalidInvocationf("class %s is not declared on %s", o.classHash, network)
	}
	jobID, err := client.Dispatch(ctx, o.classHash, req)
	if err != nil {
		return err
	}
	a.log().Info("verification job submitted", slog.String("job_id", jobID), slog.String("contract", art.Path))
	pterm.Info.WithWriter(a.Stdout).Printfln("verification job %s submitted for %s", jobID, art.Path)
	if o.noWait {
		return nil
	}

	job, err := client.Poll(ctx, jobID)
	if err != nil {
		return err
	}
	pterm.Success.WithWriter(a.Stdout).Printfln("class %s verified as %s (%s)", job.ClassHash, art.Name, job.Status)
	return nil
}

func findArtifact(arts []contract.Artifact, want string) (contract.Artifact, error) {
	var byName []contract.Artifact
	for _, a := range arts {
		if a.Path == want {
			return a, nil
		}
		if a.Name == want {
			byName = append(byName, a)
		}
	}
	switch len(byName) {
	case 0:
		return contract.Artifact{}, invalidInvocationf("no contract named %q in the workspace", want)
	case 1:
		return byName[0], nil
	default:
		return contract.Artifact{}, invalidInvocationf("contract name %q is ambiguous; use its full path", want)
	}
}

// dispatchRequest collects the package manifest and the crate sources,
// relative to the package directory.
func dispatchRequest(ws *workspace.Workspace, art contract.Artifact, o verifyOptions) (verifier.DispatchRequest, error) {
	pkg, ok := ws.Package(art.Package)
	if !ok {
		return verifier.DispatchRequest{}, fmt.Errorf("package %q not found", art.Package)
	}
	crate, ok := ws.Crate(art.Crate)
	if !ok {
		return verifier.DispatchRequest{}, fmt.Errorf("crate %q not found", art.Crate)
	}
	prefix, err := filepath.Rel(pkg.Dir, crate.Dir)
	if err != nil {
		return verifier.DispatchRequest{}, err
	}
	prefix = filepath.ToSlash(prefix)

	rel := []string{workspace.ManifestName}
	for _, f := range crate.Files {
		rel = append(rel, path.Join(prefix, f.Path))
	}
	files, err := verifier.ReadFiles(pkg.Dir, rel)
	if err != nil {
		return verifier.DispatchRequest{}, err
	}

	name := o.name
	if name == "" {
		name = art.Name
	}
	return verifier.DispatchRequest{
		CompilerVersion: compiler.SupportedCairoVersions[0],
		ScarbVersion:    compiler.SupportedScarbVersions[0],
		License:         o.license,
		Name:            name,
		ContractFile:    path.Join(prefix, art.SourceFile),
		ProjectDirPath:  ".",
		Files:           files,
	}, nil
}
