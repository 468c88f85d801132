//go:build !production

package update

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"strings"
)

func overridePublicKey(o KeyOverride) (ed25519.PublicKey, bool, error) {
	if v := strings.TrimSpace(o.Value); v != "" {
		key, err := ParsePublicKey(v)
		if err != nil {
			return nil, false, fmt.Errorf("public key override: %w", err)
		}
		return key, true, nil
	}
	if f := strings.TrimSpace(o.File); f != "" {
		//nolint:gosec // G304: Test-only key file chosen by the developer
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, false, fmt.Errorf("read public key override: %w", err)
		}
		key, err := ParsePublicKey(string(data))
		if err != nil {
			return nil, false, fmt.Errorf("public key override %s: %w", f, err)
		}
		return key, true, nil
	}
	return nil, false, nil
}
