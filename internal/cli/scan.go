package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"warden/internal/detect"
	"warden/internal/extract"
)

type scanOptions struct {
	kind       string
	mime       string
	policyPath string
}

func newScanCommand() *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan <file>",
		Short: "Extract a file and print its threat report as JSON",
		Long: `Extract a file with the same adapters the server uses and run the
detection engine over it. The report is written to stdout. The command exits
non-zero when the report would block the content.

  wardenctl scan invoice.pdf.json --kind pdf
  wardenctl scan notes.txt --policy detection.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.kind, "kind", "", "document kind (text, json, pdf, html, image); inferred from the file name when empty")
	cmd.Flags().StringVar(&opts.mime, "mime", "", "declared MIME type used to infer the kind")
	cmd.Flags().StringVar(&opts.policyPath, "policy", "", "detection policy YAML file")
	return cmd
}

func runScan(cmd *cobra.Command, path string, opts *scanOptions) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(raw) > extract.MaxAttachmentSize {
		return fmt.Errorf("%s exceeds the %d byte attachment limit", path, extract.MaxAttachmentSize)
	}

	kind := extract.Kind(opts.kind)
	if kind == "" {
		kind, err = extract.KindFromMIME(opts.mime, filepath.Base(path))
		if err != nil {
			return err
		}
	}

	engineOpts := []detect.Option{}
	if opts.policyPath != "" {
		policy, err := detect.LoadPolicy(opts.policyPath)
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, detect.WithPolicy(policy))
	}
	engine := detect.NewEngine(engineOpts...)

	ctx := cmd.Context()
	doc, err := extract.NewDefaultRegistry().Extract(ctx, raw, kind)
	if err != nil {
		return err
	}
	report, err := engine.ScanDocument(ctx, doc)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if report.Blocking() {
		return ErrBlocked
	}
	return nil
}
