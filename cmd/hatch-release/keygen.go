package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"hatch/internal/update"
)

func newKeygenCmd() *cobra.Command {
	var (
		outPrefix string
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a manifest signing keypair",
		Long: `Keygen writes <prefix>.pub and <prefix>.key holding base64 Ed25519 keys.

The public key is embedded in the updater at internal/update/keys/update_signing.pub.
Keep the private key out of the repository.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(cmd, outPrefix, force)
		},
	}

	cmd.Flags().StringVar(&outPrefix, "out", "update_signing", "Path prefix for the key files")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing key files")

	return cmd
}

func runKeygen(cmd *cobra.Command, prefix string, force bool) error {
	pubPath, keyPath := prefix+".pub", prefix+".key"
	if !force {
		for _, p := range []string{pubPath, keyPath} {
			if _, err := os.Stat(p); err == nil {
				return fmt.Errorf("%s exists (use --force to overwrite)", p)
			}
		}
	}

	pub, priv, err := update.GenerateSigningKey()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(prefix); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create key directory: %w", err)
		}
	}
	if err := os.WriteFile(keyPath, []byte(update.EncodeKey(priv)+"\n"), 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, []byte(update.EncodeKey(pub)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "public key:  %s\nprivate key: %s\n%s\n", pubPath, keyPath, update.EncodeKey(pub))
	return nil
}
