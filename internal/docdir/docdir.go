// Package docdir lays out a single DID's on-disk history directory and
// sanitizes the path components used to build it, adapted from the
// teacher's internal/store path-traversal guard (sanitizePathComponent)
// and its {base}/u/{login}/g/{slug} layout convention.
package docdir

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// LogFilename is the append-only log file inside a document directory.
	LogFilename = "did-history.log"
	// CurrentFilename is the latest resolved document, rewritten on every update.
	CurrentFilename = "did.json"
	// StoreFilename is the encrypted key store co-located with the document.
	StoreFilename = "keys.sqlite"
)

// sanitizeComponent rejects path components that could escape base through
// traversal or an absolute path, mirroring the teacher's store package.
func sanitizeComponent(component string) (string, error) {
	if component == "" {
		return "", fmt.Errorf("docdir: path component cannot be empty")
	}
	if strings.ContainsAny(component, `/\`) || strings.Contains(component, "..") || component == "." {
		return "", fmt.Errorf("docdir: invalid path component %q", component)
	}
	cleaned := filepath.Clean(component)
	if cleaned != component {
		return "", fmt.Errorf("docdir: path component contains invalid characters: %q", component)
	}
	return cleaned, nil
}

// Dir is a single DID's directory on disk: {base}/{method}/{scid}.
type Dir struct {
	base string
}

// Open validates method and scid and returns the Dir rooted at
// {base}/{method}/{scid}. It does not touch the filesystem.
func Open(base, method, scid string) (*Dir, error) {
	cleanMethod, err := sanitizeComponent(method)
	if err != nil {
		return nil, err
	}
	cleanSCID, err := sanitizeComponent(scid)
	if err != nil {
		return nil, err
	}
	return &Dir{base: filepath.Join(base, cleanMethod, cleanSCID)}, nil
}

// Path returns the directory root.
func (d *Dir) Path() string { return d.base }

// LogPath returns the path to the append-only log file.
func (d *Dir) LogPath() string { return filepath.Join(d.base, LogFilename) }

// CurrentPath returns the path to the latest resolved document.
func (d *Dir) CurrentPath() string { return filepath.Join(d.base, CurrentFilename) }

// VersionPath returns the path to the pinned did-v{n}.json snapshot.
func (d *Dir) VersionPath(versionID int) string {
	return filepath.Join(d.base, fmt.Sprintf("did-v%d.json", versionID))
}

// StorePath returns the path to the encrypted key store.
func (d *Dir) StorePath() string { return filepath.Join(d.base, StoreFilename) }

// Ensure creates the directory (and any parents) if it does not yet exist.
func (d *Dir) Ensure() error {
	return os.MkdirAll(d.base, 0o755)
}

// Exists reports whether the directory has already been initialized (i.e.
// its log file is present).
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.LogPath())
	return err == nil
}
