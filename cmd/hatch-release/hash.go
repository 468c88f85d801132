package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"hatch/internal/update"
)

func newHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash FILE...",
		Short: "Print SHA-256 digests in sha256sum format",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				digest, err := update.ComputeDigest(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", digest, filepath.Base(path))
			}
			return nil
		},
	}
}
