package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// ErrNetworkFilesystem is returned when the state database would live on a
// network mount. Grant writes rely on sqlite file locking.
var ErrNetworkFilesystem = errors.New("state database on network filesystem")

func checkLocalFilesystem(path string) error {
	return checkLocalFilesystemWithDetector(path, detectFilesystemType)
}

// checkLocalFilesystemWithDetector rejects network filesystems. A detector
// failure (unsupported platform, permission) is not fatal.
func checkLocalFilesystemWithDetector(path string, detector func(string) (string, error)) error {
	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", path, err)
	}

	fsType, err := detector(inspectPath)
	if err != nil {
		return nil
	}
	if isNetworkFilesystem(fsType) {
		return fmt.Errorf("%w: %q is on %q; set state.path to a local disk", ErrNetworkFilesystem, path, fsType)
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.TrimSpace(strings.ToLower(fsType))]
	return found
}
