package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"warden/pkg/platform/audit/store/chain"
)

// ErrChainBroken is returned when an audit log fails verification.
var ErrChainBroken = errors.New("audit chain verification failed")

func newAuditCommand() *cobra.Command {
	audit := &cobra.Command{
		Use:   "audit",
		Short: "Work with hash-chained audit logs",
	}

	var asJSON bool
	verify := &cobra.Command{
		Use:   "verify <path>",
		Short: "Check every link of a hash-chained audit log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result := chain.Verify(args[0])
			out := cmd.OutOrStdout()
			if asJSON {
				if err := json.NewEncoder(out).Encode(result); err != nil {
					return err
				}
			} else if result.Valid {
				fmt.Fprintf(out, "ok: %d records, chain intact\n", result.Lines)
			} else {
				fmt.Fprintf(out, "FAIL at line %d: %s\n", result.ErrorLine, result.Error)
			}
			if !result.Valid {
				return ErrChainBroken
			}
			return nil
		},
	}
	verify.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	audit.AddCommand(verify)
	return audit
}
