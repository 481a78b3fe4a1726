package cmd

import (
	"context"
	"errors"

	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/account"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/catalog"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/output"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/provision"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/workflow"
)

type listResult struct {
	Account  account.Account   `json:"account" yaml:"account"`
	Services []catalog.Service `json:"services" yaml:"services"`
}

func runList(ctx context.Context, rt *runtimeState) error {
	format, err := rt.OutputFormat()
	if err != nil {
		return err
	}
	p, err := rt.buildPipeline()
	if err != nil {
		return err
	}
	listing, err := p.List(ctx)
	if err != nil {
		return err
	}
	return writeListing(rt, format, listing)
}

func writeListing(rt *runtimeState, format output.Format, listing *workflow.Listing) error {
	w := rt.Writer()
	switch format {
	case output.FormatJSON, output.FormatYAML:
		return output.WriteObject(w, format, listResult{Account: listing.Account, Services: listing.Services})
	case output.FormatWide:
		output.WriteServiceTableWide(w, listing.Services)
	default:
		output.WriteServiceTable(w, listing.Services)
	}
	output.WriteMissingKeys(w, listing.Services)
	return nil
}

func runInit(ctx context.Context, rt *runtimeState, raw string) error {
	format, err := rt.OutputFormat()
	if err != nil {
		return err
	}
	sel, err := provision.ParseSelector(raw)
	if err != nil {
		return err
	}
	p, err := rt.buildPipeline()
	if err != nil {
		return err
	}
	cred, err := p.Provision(ctx, sel)
	if err != nil {
		return err
	}
	return writeCredential(rt, format, cred)
}

func writeCredential(rt *runtimeState, format output.Format, cred *provision.Credential) error {
	if format.Structured() {
		return output.WriteObject(rt.Writer(), format, cred)
	}
	output.WriteCredential(rt.Writer(), cred)
	return nil
}

func runInteractive(ctx context.Context, rt *runtimeState) error {
	if rt.nonInteractive {
		return errors.New("no service selected: use --list or --init in non-interactive mode")
	}
	format, err := rt.OutputFormat()
	if err != nil {
		return err
	}
	p, err := rt.buildPipeline()
	if err != nil {
		return err
	}
	cred, err := p.Provision(ctx, menuChooser{rt: rt})
	if err != nil {
		return err
	}
	return writeCredential(rt, format, cred)
}
