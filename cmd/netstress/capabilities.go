package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"netstress/internal/backend"
)

func newCapabilitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "Print detected send backends as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sel := backend.NewSelector()
			defer sel.Close()
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(backend.NewReport(sel))
		},
	}
}
