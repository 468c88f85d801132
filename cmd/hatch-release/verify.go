package main

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"hatch/internal/update"
)

func newVerifyCmd() *cobra.Command {
	var (
		pubKey    string
		current   string
		artifacts []string
	)

	cmd := &cobra.Command{
		Use:   "verify MANIFEST",
		Short: "Check a manifest the way the updater does",
		Long: `Verify checks the manifest signature, its structure and, with --artifact,
that each local file matches the digest listed for it. Without --pubkey the
key embedded in this build is used.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := resolvePublicKey(pubKey)
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read manifest: %w", err)
			}
			release, err := update.VerifyManifest(raw, key)
			if err != nil {
				return err
			}
			if current != "" {
				if err := update.Gate(current, release.Version()); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "signature ok: version %s, %d file(s)\n", release.Version(), len(release.Files()))
			for _, f := range release.Files() {
				fmt.Fprintf(out, "  %s  %s\n", f.SHA256, f.Name)
			}
			return verifyArtifacts(cmd, release, artifacts)
		},
	}

	cmd.Flags().StringVar(&pubKey, "pubkey", "", "Public key, base64 or a file holding it (default: embedded key)")
	cmd.Flags().StringVar(&current, "current", "", "Also require the release to be newer than this version")
	cmd.Flags().StringArrayVar(&artifacts, "artifact", nil, "Local artifact to check against its listed digest (repeatable)")

	return cmd
}

func resolvePublicKey(value string) (ed25519.PublicKey, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return update.EmbeddedPublicKey()
	}
	if b, err := os.ReadFile(value); err == nil {
		return update.ParsePublicKey(string(b))
	}
	return update.ParsePublicKey(value)
}

func verifyArtifacts(cmd *cobra.Command, release *update.ReleaseInfo, paths []string) error {
	byName := make(map[string]update.ArtifactDescriptor)
	for _, f := range release.Files() {
		byName[f.FileName()] = f
	}
	for _, path := range paths {
		desc, ok := byName[filepath.Base(path)]
		if !ok {
			return fmt.Errorf("%s is not listed in the manifest", filepath.Base(path))
		}
		if err := update.VerifyArtifactFile(path, desc.SHA256); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "digest ok: %s\n", filepath.Base(path))
	}
	return nil
}
