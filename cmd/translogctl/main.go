// Command translogctl inspects a translog directory from the outside:
// dumping its records, verifying their checksums, and reporting summary
// stats. One cobra subcommand per operation, hung off a bare root.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quiverdb/translog/internal/logging"
)

func main() {
	root := &cobra.Command{
		Use:   "translogctl",
		Short: "Inspect a translog directory",
	}
	root.AddCommand(newDumpCmd())
	root.AddCommand(newVerifyCmd())
	root.AddCommand(newStatCmd())

	if err := root.Execute(); err != nil {
		logging.Error("translogctl: %v", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
