package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// fsDetector returns a filesystem type name for an existing path.
type fsDetector func(path string) (string, error)

var remoteFilesystems = map[string]bool{
	"afpfs":  true,
	"cifs":   true,
	"nfs":    true,
	"nfs4":   true,
	"smbfs":  true,
	"smb2":   true,
	"webdav": true,
}

// requireLocalFilesystem refuses SQLite files on network mounts, where
// advisory locking is unreliable and concurrent upserts can corrupt the file.
func requireLocalFilesystem(path string, detect fsDetector) error {
	existing, err := closestExisting(path)
	if err != nil {
		return fmt.Errorf("resolve sqlite path %q: %w", path, err)
	}

	fsType, err := detect(existing)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}

	if isRemoteFilesystem(fsType) {
		return fmt.Errorf("sqlite database %q is on network filesystem %q; point store.dsn at local disk or use the pgx driver", path, fsType)
	}
	return nil
}

func closestExisting(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent directory")
		}
		candidate = parent
	}
}

func isRemoteFilesystem(fsType string) bool {
	return remoteFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
}
