package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"sheet-ingest/internal/logging"

	"github.com/joho/godotenv"
)

// DSNEnvVar is consulted when neither the config nor the command line supplies a DSN.
const DSNEnvVar = "SHEET_INGEST_DSN"

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is an
// error only when required is true.
func LoadEnvFile(path string, required bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			logging.Logf(logging.Debug, "No env file at '%s', using process environment only", path)
			return nil
		}
		return fmt.Errorf("failed to load env file '%s': %w", path, err)
	}
	logging.Logf(logging.Debug, "Loaded environment from '%s'", path)
	return nil
}

// ResolveDSN picks the connection string for a destination: the override
// (usually the --dsn flag) first, then the config value, then SHEET_INGEST_DSN.
func ResolveDSN(dest *DestinationConfig, override string) string {
	if override != "" {
		return override
	}
	if dest.DSN != "" {
		return dest.DSN
	}
	return os.Getenv(DSNEnvVar)
}
