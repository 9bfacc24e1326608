package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// DataDirName is the per-campaign-root data directory.
const DataDirName = ".lorekeeper"

// DBFileName is the SQLite database file inside the data directory.
const DBFileName = "lorekeeper.db"

// DataDir returns the path to the .lorekeeper directory for the given
// campaign root.
func DataDir(root string) string {
	return filepath.Join(root, DataDirName)
}

// DBPath returns the database path for the given campaign root.
func DBPath(root string) string {
	return filepath.Join(DataDir(root), DBFileName)
}

// ArtifactsDir returns the rendered-output directory for the given
// campaign root.
func ArtifactsDir(root string) string {
	return filepath.Join(DataDir(root), "artifacts")
}

// EnsureDataDir creates the .lorekeeper directory tree if it doesn't exist.
func EnsureDataDir(root string) error {
	if err := os.MkdirAll(ArtifactsDir(root), 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return EnsureGitignore(DataDir(root))
}

// dataGitignore is the default .gitignore content for .lorekeeper
// directories.
const dataGitignore = `# SQLite database files
lorekeeper.db
lorekeeper.db-shm
lorekeeper.db-wal
`

// EnsureGitignore creates a .gitignore in the data directory if one does
// not already exist. This prevents accidentally committing database files
// to version control.
func EnsureGitignore(dataDir string) error {
	gitignorePath := filepath.Join(dataDir, ".gitignore")
	if _, err := os.Stat(gitignorePath); err == nil {
		return nil // already exists, respect user customizations
	}
	if err := os.WriteFile(gitignorePath, []byte(dataGitignore), 0600); err != nil {
		return fmt.Errorf("failed to create .gitignore: %w", err)
	}
	return nil
}
