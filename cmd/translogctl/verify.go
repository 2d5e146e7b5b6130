package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/quiverdb/translog/record"
)

func newVerifyCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify every record checksum in a translog directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(dir, os.Stdout)
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "translog directory")
	cmd.MarkFlagRequired("dir")
	return cmd
}

func runVerify(dir string, out io.Writer) error {
	readers, err := openGenerations(dir)
	if err != nil {
		return err
	}
	defer closeReaders(readers)

	var total int64
	for _, r := range readers {
		it := r.ChannelSnapshot()
		var genCount int64
		for {
			_, _, err := it.Next()
			if err == io.EOF {
				break
			}
			var trunc *record.TruncatedError
			var corrupt *record.CorruptedError
			if errors.As(err, &trunc) {
				fmt.Fprintf(out, "generation %d: truncated at offset %d: %s\n", r.Generation(), trunc.Offset, trunc.Reason)
				break
			}
			if errors.As(err, &corrupt) {
				return fmt.Errorf("generation %d: corrupted at offset %d: %s", r.Generation(), corrupt.Offset, corrupt.Reason)
			}
			if err != nil {
				return err
			}
			genCount++
		}
		fmt.Fprintf(out, "generation %d: %d ok records\n", r.Generation(), genCount)
		total += genCount
	}
	fmt.Fprintf(out, "total: %d records across %d generations\n", total, len(readers))
	return nil
}
