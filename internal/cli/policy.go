package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"warden/internal/detect"
)

func newPolicyCommand() *cobra.Command {
	policy := &cobra.Command{
		Use:   "policy",
		Short: "Inspect detection policy files",
	}
	policy.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Validate a detection policy and print the effective settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := detect.LoadPolicy(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "policy %s is valid\n", args[0])
			fmt.Fprintf(out, "  block_threshold:            %s\n", p.BlockThreshold)
			fmt.Fprintf(out, "  visible_injection_severity: %s\n", p.VisibleInjectionSeverity)
			fmt.Fprintf(out, "  max_encoded_depth:          %d\n", p.MaxEncodedDepth)
			fmt.Fprintf(out, "  max_structured_depth:       %d\n", p.MaxStructuredDepth)
			fmt.Fprintf(out, "  extra_injection_patterns:   %d\n", len(p.ExtraInjectionPatterns))
			return nil
		},
	})
	return policy
}
