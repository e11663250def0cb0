package cli

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// EnvLoader loads .env files with a predictable override order.
type EnvLoader struct {
	value       *string
	defaultPath string
}

// AddEnvFlag registers an --env flag and returns an EnvLoader.
func AddEnvFlag(fs *flag.FlagSet, defaultPath, description string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if description == "" {
		description = "Path to the .env file"
	}

	value := fs.String("env", defaultPath, description)
	return &EnvLoader{
		value:       value,
		defaultPath: defaultPath,
	}
}

// Load resolves and loads environment variables. CURATE_ENV_FILE wins over --env.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}

	log.SetOutput(os.Stderr)

	if custom := strings.TrimSpace(os.Getenv("CURATE_ENV_FILE")); custom != "" {
		if err := godotenv.Overload(custom); err == nil {
			log.Printf("Loaded environment from CURATE_ENV_FILE: %s", custom)
			return custom, nil
		}
		log.Printf("Warning: failed to load CURATE_ENV_FILE=%s", custom)
	}

	requested := l.defaultPath
	if l.value != nil && strings.TrimSpace(*l.value) != "" {
		requested = strings.TrimSpace(*l.value)
	}

	candidates := []string{requested}
	if base := filepath.Base(requested); base != "" && base != requested {
		candidates = append(candidates, base)
	}
	if requested != l.defaultPath {
		candidates = append(candidates, l.defaultPath)
	}

	for _, candidate := range candidates {
		if err := godotenv.Overload(candidate); err == nil {
			log.Printf("Loaded environment from: %s", candidate)
			return candidate, nil
		}
	}

	return "", fmt.Errorf("failed to load env file from %s", requested)
}
