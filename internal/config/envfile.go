package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// EnvFileCandidates lists where a .env file is looked for: the working
// directory and its two parents, so binaries started from bin/ or cmd/x still
// find the project file.
func EnvFileCandidates() []string {
	paths := []string{".env"}
	if workDir, err := os.Getwd(); err == nil {
		parentDir := filepath.Dir(workDir)
		paths = append(paths,
			filepath.Join(parentDir, ".env"),
			filepath.Join(filepath.Dir(parentDir), ".env"),
		)
	}
	return paths
}

// LoadEnvFile loads the first existing file among paths into the process
// environment. Variables already set are not overridden. Returns the absolute
// path that was loaded, or "" when none was found.
func LoadEnvFile(paths ...string) string {
	for _, envPath := range paths {
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err != nil {
			continue
		}
		absPath, _ := filepath.Abs(envPath)
		return absPath
	}
	return ""
}
