// Package secrets resolves credentials from files, the environment or inline
// configuration.
package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Source lists the places a secret may come from, in precedence order:
// File, then Env, then Value.
type Source struct {
	// Name only appears in error messages.
	Name  string
	File  string
	Env   string
	Value string
}

// Load returns the trimmed secret. The secret itself never appears in errors.
func Load(src Source) (string, error) {
	name := strings.TrimSpace(src.Name)
	if name == "" {
		name = "secret"
	}

	if file := strings.TrimSpace(src.File); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading %s from file %q: %w", name, file, err)
		}
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("%s file %q is empty", name, file)
		}
		return secret, nil
	}

	if env := strings.TrimSpace(src.Env); env != "" {
		if secret := strings.TrimSpace(os.Getenv(env)); secret != "" {
			return secret, nil
		}
	}

	if secret := strings.TrimSpace(src.Value); secret != "" {
		return secret, nil
	}
	if src.Env != "" {
		return "", fmt.Errorf("%s is not configured (set %s or a file)", name, src.Env)
	}
	return "", fmt.Errorf("%s is not configured", name)
}

// Optional is Load for secrets a feature can run without. It returns "" and
// no error when nothing is configured, but still fails on unreadable files.
func Optional(src Source) (string, error) {
	if strings.TrimSpace(src.File) != "" {
		return Load(src)
	}
	secret, err := Load(src)
	if err != nil {
		return "", nil
	}
	return secret, nil
}
