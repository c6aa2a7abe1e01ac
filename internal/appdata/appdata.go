// Package appdata manages the on-disk data directory layout and the
// breaking-change version guard: on a version mismatch the entire data
// directory is deleted and recreated, which is fragile (it also destroys
// the persisted keypair) but preserved as specified.
package appdata

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// BreakingChangeVersion is the on-disk layout version this binary
// expects. Bump it whenever the data directory's format changes in a way
// older state cannot survive.
const BreakingChangeVersion = "1"

const versionFileName = "version"

// Dir describes the paths this process persists state under.
type Dir struct {
	Root           string
	KeystorePath   string
	RendezvousPath string
	LogPath        string
}

// Prepare ensures root exists, wipes and recreates it if the persisted
// breaking-change version doesn't match BreakingChangeVersion (or is
// absent), and returns the resolved subpaths.
func Prepare(root string, logger *slog.Logger) (*Dir, error) {
	versionPath := filepath.Join(root, versionFileName)

	existing, err := os.ReadFile(versionPath)
	switch {
	case err == nil:
		if strings.TrimSpace(string(existing)) != BreakingChangeVersion {
			logger.Warn("data directory version mismatch, recreating",
				"root", root, "found", strings.TrimSpace(string(existing)), "expected", BreakingChangeVersion)
			if err := renew(root); err != nil {
				return nil, err
			}
		}
	case os.IsNotExist(err):
		logger.Info("no version file found, initializing data directory", "root", root)
		if err := renew(root); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("appdata: read version file: %w", err)
	}

	if err := os.WriteFile(versionPath, []byte(BreakingChangeVersion+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("appdata: write version file: %w", err)
	}

	d := &Dir{
		Root:           root,
		KeystorePath:   filepath.Join(root, "keystore.bolt"),
		RendezvousPath: filepath.Join(root, "rendezvous"),
		LogPath:        filepath.Join(root, "insanity.log"),
	}
	if err := os.MkdirAll(d.RendezvousPath, 0o700); err != nil {
		return nil, fmt.Errorf("appdata: create rendezvous subdirectory: %w", err)
	}
	return d, nil
}

// renew deletes and recreates the data directory from scratch.
func renew(root string) error {
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("appdata: remove stale data directory: %w", err)
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return fmt.Errorf("appdata: create data directory: %w", err)
	}
	return nil
}
