package config

import (
	"fmt"
	"os"
	"strings"
)

// ResolveSecret returns the secret named by envName. NAME_FILE, when set,
// wins over NAME and must point at a readable, non-empty file; that is how
// container secrets are mounted. An unset secret resolves to "".
func ResolveSecret(envName string) (string, error) {
	fileVar := envName + "_FILE"
	path := os.Getenv(fileVar)
	if path == "" {
		return os.Getenv(envName), nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		// the path is safe to log, the content never is
		return "", fmt.Errorf("%s: failed to read secret file %s: %w", fileVar, path, err)
	}
	secret := strings.TrimSpace(string(b))
	if secret == "" {
		return "", fmt.Errorf("%s: secret file %s is empty", fileVar, path)
	}
	return secret, nil
}
