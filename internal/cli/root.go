// Package cli implements wardenctl, the offline operator tool: scanning
// files with the detection engine, checking policy files and verifying
// hash-chained audit logs.
package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

// ErrBlocked is returned by scan when the report would block the content,
// so the process exits non-zero.
var ErrBlocked = errors.New("content blocked by detection policy")

// NewRootCommand builds the wardenctl command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "wardenctl",
		Short: "Operator tooling for the warden trust boundary",
		Long: `wardenctl runs the detection engine and audit tooling outside the server.
It reads local files only and never contacts a model backend.`,
		SilenceUsage: true,
	}
	root.AddCommand(newScanCommand(), newPolicyCommand(), newAuditCommand())
	return root
}

func Execute() error {
	return NewRootCommand().Execute()
}
