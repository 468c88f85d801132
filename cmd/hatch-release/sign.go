package main

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"

	"hatch/internal/update"
)

const signingKeyEnv = "HATCH_RELEASE_KEY"

type signOptions struct {
	keyFile   string
	draft     string
	version   string
	artifacts []string
	checksums string
	baseURL   string
	notesFile string
	date      string
	out       string
}

func newSignCmd() *cobra.Command {
	var opts signOptions

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Build and sign a release manifest",
		Long: `Sign assembles a manifest and adds its Ed25519 signature.

The starting point is an optional draft (JSON, comments and trailing commas
allowed). --version, --notes and --date override draft fields; --artifact and
--checksums append file entries. The private key comes from --key or
` + signingKeyEnv + `.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			signed, err := buildSignedManifest(opts)
			if err != nil {
				return err
			}
			if opts.out == "" || opts.out == "-" {
				_, err = cmd.OutOrStdout().Write(signed)
				return err
			}
			if err := os.WriteFile(opts.out, signed, 0o644); err != nil {
				return fmt.Errorf("write manifest: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", opts.out)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.keyFile, "key", "", "Private key file (default $"+signingKeyEnv+")")
	cmd.Flags().StringVar(&opts.draft, "in", "", "Draft manifest (JSON with comments)")
	cmd.Flags().StringVar(&opts.version, "version", "", "Release version")
	cmd.Flags().StringArrayVar(&opts.artifacts, "artifact", nil, "Artifact file to hash and list (repeatable)")
	cmd.Flags().StringVar(&opts.checksums, "checksums", "", "sha256sum output listing artifacts")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "Prefix for artifact URLs (default: relative to the manifest)")
	cmd.Flags().StringVar(&opts.notesFile, "notes", "", "Markdown release notes file")
	cmd.Flags().StringVar(&opts.date, "date", "", "Release date, RFC3339 or \"now\"")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "-", "Output file")

	return cmd
}

func buildSignedManifest(opts signOptions) ([]byte, error) {
	key, err := loadPrivateKey(opts.keyFile)
	if err != nil {
		return nil, err
	}

	obj, err := loadDraft(opts.draft)
	if err != nil {
		return nil, err
	}
	if opts.version != "" {
		obj["version"] = opts.version
	}
	if opts.notesFile != "" {
		notes, err := os.ReadFile(opts.notesFile)
		if err != nil {
			return nil, fmt.Errorf("read notes: %w", err)
		}
		obj["releaseNotes"] = strings.TrimSpace(string(notes))
	}
	switch opts.date {
	case "":
	case "now":
		obj["releaseDate"] = time.Now().UTC().Format(time.RFC3339)
	default:
		if _, err := time.Parse(time.RFC3339, opts.date); err != nil {
			return nil, fmt.Errorf("--date: %w", err)
		}
		obj["releaseDate"] = opts.date
	}

	entries, err := artifactEntries(opts)
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		files, _ := obj["files"].([]any)
		obj["files"] = append(files, entries...)
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	signed, err := update.SignManifest(raw, key)
	if err != nil {
		return nil, err
	}

	// Refuse to emit something the updater would reject.
	if _, err := update.VerifyManifest(signed, key.Public().(ed25519.PublicKey)); err != nil {
		return nil, fmt.Errorf("signed manifest does not verify: %w", err)
	}
	return signed, nil
}

func loadPrivateKey(path string) (ed25519.PrivateKey, error) {
	var encoded string
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		encoded = string(b)
	} else {
		encoded = os.Getenv(signingKeyEnv)
	}
	if strings.TrimSpace(encoded) == "" {
		return nil, fmt.Errorf("no signing key: pass --key or set %s", signingKeyEnv)
	}
	return update.ParsePrivateKey(encoded)
}

func loadDraft(path string) (map[string]any, error) {
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read draft: %w", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(data), &obj); err != nil {
		return nil, fmt.Errorf("parse draft %s: %w", path, err)
	}
	if obj == nil {
		obj = map[string]any{}
	}
	return obj, nil
}

func artifactEntries(opts signOptions) ([]any, error) {
	var entries []any
	for _, path := range opts.artifacts {
		digest, err := update.ComputeDigest(path)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat artifact: %w", err)
		}
		entries = append(entries, map[string]any{
			"url":                  artifactURL(opts.baseURL, filepath.Base(path)),
			update.DigestAlgorithm: digest,
			"size":                 info.Size(),
		})
	}

	if opts.checksums != "" {
		f, err := os.Open(opts.checksums)
		if err != nil {
			return nil, fmt.Errorf("open checksums: %w", err)
		}
		sums, err := update.ParseChecksumFile(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(sums))
		for name := range sums {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			entries = append(entries, map[string]any{
				"url":                  artifactURL(opts.baseURL, name),
				update.DigestAlgorithm: sums[name],
			})
		}
	}
	return entries, nil
}

func artifactURL(base, name string) string {
	if base == "" {
		return name
	}
	return strings.TrimSuffix(base, "/") + "/" + name
}
