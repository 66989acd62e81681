// Command netstress drives authorized load tests against hosts the
// operator controls.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "netstress",
		Short:         "Multi-backend packet load generator",
		Long:          "netstress sends UDP, TCP, HTTP, ICMP, DNS or raw traffic at an authorized target and reports throughput.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newCapabilitiesCmd(), newAuditCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
