// Command hatch-release creates signing keys, signs release manifests and
// checks them the way the updater will.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"hatch/internal/buildinfo"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hatch-release",
		Short: "Release tooling for hatch update manifests",
		Long: `hatch-release prepares what the updater consumes: an Ed25519 signing key,
a manifest listing each artifact's SHA-256 digest, and the manifest signature.

Run 'hatch-release verify' against a published manifest before announcing it.`,
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)

	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newSignCmd())
	rootCmd.AddCommand(newVerifyCmd())
	rootCmd.AddCommand(newHashCmd())

	return rootCmd
}
