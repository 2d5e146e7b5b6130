package main

import (
	"fmt"
	"io"
	"os"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"

	"github.com/quiverdb/translog/translog"
)

func newStatCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "stat",
		Short: "Report checkpoint and generation summary for a translog directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStat(dir, os.Stdout)
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "translog directory")
	cmd.MarkFlagRequired("dir")
	return cmd
}

func runStat(dir string, out io.Writer) error {
	ckpt, err := translog.ReadCheckpoint(dir)
	if err != nil {
		fmt.Fprintf(out, "checkpoint: none (%v)\n", err)
	} else {
		fmt.Fprintf(out, "checkpoint: generation=%d numOps=%d minGeneration=%d\n", ckpt.Generation, ckpt.NumOps, ckpt.MinGeneration)
	}

	readers, err := openGenerations(dir)
	if err != nil {
		return err
	}
	defer closeReaders(readers)

	var totalBytes int64
	for _, r := range readers {
		fmt.Fprintf(out, "generation %d: %s, %d ops (header count; -1 = unknown, use verify for an exact count)\n",
			r.Generation(), bytefmt.ByteSize(uint64(r.SizeInBytes())), r.TotalOperations())
		totalBytes += r.SizeInBytes()
	}
	fmt.Fprintf(out, "total: %d generations, %s\n", len(readers), bytefmt.ByteSize(uint64(totalBytes)))
	return nil
}
