// Package profiledir manages the per-profile browser user-data directories.
package profiledir

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrNotFound is returned when a profile has no directory on disk
var ErrNotFound = errors.New("profile directory not found")

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._@-]`)

const hashLen = 12

// hashSuffix matches names DirName produces for rewritten ids
var hashSuffix = regexp.MustCompile(`-[0-9a-f]{12}$`)

// Manager owns the profiles root directory
type Manager struct {
	root string
}

// NewManager creates the root directory if it doesn't exist
func NewManager(root string) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve profiles directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create profiles directory: %w", err)
	}

	return &Manager{root: abs}, nil
}

// Root returns the absolute profiles root
func (m *Manager) Root() string {
	return m.root
}

// Path returns the directory for profileID without touching the disk
func (m *Manager) Path(profileID string) (string, error) {
	name := DirName(profileID)
	if name == "" {
		return "", fmt.Errorf("invalid profile id %q", profileID)
	}
	return filepath.Join(m.root, name), nil
}

// Resolve returns the directory for profileID, creating it if absent
func (m *Manager) Resolve(profileID string) (string, error) {
	dir, err := m.Path(profileID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create profile directory: %w", err)
	}
	return dir, nil
}

// Remove deletes the profile directory. A missing directory is not an error.
func (m *Manager) Remove(profileID string) error {
	dir, err := m.Path(profileID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove profile directory: %w", err)
	}
	return nil
}

// Archive writes the profile directory to w as a tar.gz stream
func (m *Manager) Archive(profileID string, w io.Writer) error {
	dir, err := m.Path(profileID)
	if err != nil {
		return err
	}

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return ErrNotFound
	}

	gzWriter := gzip.NewWriter(w)
	tarWriter := tar.NewWriter(gzWriter)

	if err := compressDirectory(dir, tarWriter); err != nil {
		return fmt.Errorf("failed to archive profile directory: %w", err)
	}
	if err := tarWriter.Close(); err != nil {
		return err
	}
	return gzWriter.Close()
}

// DirName maps a profile id to a single safe path element. Ids that are
// already lowercase and safe map to themselves; anything else keeps a
// readable prefix and gets a hash of the raw id appended, so distinct ids
// never share a directory, even on case-insensitive filesystems.
func DirName(profileID string) string {
	if profileID == "" || profileID == "." || profileID == ".." {
		return ""
	}

	name := strings.ToLower(unsafeChars.ReplaceAllString(profileID, "_"))
	if name == profileID && !hashSuffix.MatchString(name) {
		return name
	}

	sum := sha256.Sum256([]byte(profileID))
	return strings.Trim(name, ".") + "-" + hex.EncodeToString(sum[:])[:hashLen]
}

func compressDirectory(source string, tarWriter *tar.Writer) error {
	return filepath.Walk(source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// Chrome leaves sockets and lock symlinks behind
		if !info.IsDir() && !info.Mode().IsRegular() {
			return nil
		}

		relPath, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}

		header, err := tar.FileInfoHeader(info, info.Name())
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(relPath)

		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		_, err = io.Copy(tarWriter, file)
		return err
	})
}
