package update

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"strings"
)

// ParseChecksumFile reads sha256sum output ("<hex>  <file>", or
// "<hex> *<file>" for binary mode) and returns file name -> digest. Lines
// that are blank, comments, or carry something other than a SHA-256 digest
// are skipped.
func ParseChecksumFile(r io.Reader) (map[string]string, error) {
	checksums := make(map[string]string)
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		hash, name, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		digest, ok := NormalizeDigest(hash)
		if !ok {
			continue
		}
		name = strings.TrimPrefix(strings.TrimSpace(name), "*")
		// Remove any leading directories
		name = path.Base(strings.ReplaceAll(name, "\\", "/"))
		if name == "" || name == "." || name == "/" {
			continue
		}
		checksums[name] = digest
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read checksums: %w", err)
	}
	return checksums, nil
}
