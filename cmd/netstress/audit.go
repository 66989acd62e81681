package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"netstress/internal/audit"
)

var errChainBroken = errors.New("audit chain broken")

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect audit logs",
	}
	var asJSON bool
	verify := &cobra.Command{
		Use:   "verify <file>",
		Short: "Check the hash chain of an audit log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := audit.VerifyFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else if res.Valid {
				fmt.Fprintf(out, "ok: %d entries, chain intact\n", res.Entries)
			} else {
				fmt.Fprintf(out, "broken at entry %d of %d: %s\n", res.BrokenAt, res.Entries, res.Reason)
			}
			if !res.Valid {
				return errChainBroken
			}
			return nil
		},
	}
	verify.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	cmd.AddCommand(verify)
	return cmd
}
