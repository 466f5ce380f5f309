package env

import (
	"os"

	"github.com/joho/godotenv"
)

var Env map[string]string

func GetEnv(key, def string) string {
	// Real environment wins over the file so containers can override it
	if val := os.Getenv(key); val != "" {
		return val
	}
	if val, ok := Env[key]; ok {
		return val
	}
	return def
}

// SetupEnvFile loads the first .env found into the process environment and
// returns its path, or "" when none exists.
func SetupEnvFile() string {
	envFiles := []string{
		".env",          // Current directory
		"../../.env",    // From cmd/gymsite to project root
		"../../../.env", // Fallback for deeper nesting
	}

	for _, envFile := range envFiles {
		values, err := godotenv.Read(envFile)
		if err != nil {
			continue
		}
		Env = values
		// Load does not override variables that are already set
		_ = godotenv.Load(envFile)
		return envFile
	}
	return ""
}
