package ml

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Artifact is one file to be published by WriteArtifacts.
type Artifact struct {
	Path string
	Data []byte
}

// WriteFileAtomic writes data next to path and renames it into place, so
// readers never observe a half-written artifact.
func WriteFileAtomic(path string, data []byte) error {
	return WriteArtifacts(Artifact{Path: path, Data: data})
}

// WriteArtifacts stages every file as a synced temp file in its target
// directory and only renames once all of them are staged. A failure while
// staging leaves the existing artifacts untouched; a failed rename restores
// the files already published from staged copies of their old contents.
func WriteArtifacts(artifacts ...Artifact) error {
	var leftovers []string
	defer func() {
		for _, name := range leftovers {
			os.Remove(name)
		}
	}()

	staged := make([]string, len(artifacts))
	backups := make([]string, len(artifacts))
	for i, a := range artifacts {
		name, err := stage(a)
		if err != nil {
			return fmt.Errorf("write %s: %w", a.Path, err)
		}
		staged[i] = name
		leftovers = append(leftovers, name)

		backup, err := backupOf(a.Path)
		if err != nil {
			return fmt.Errorf("back up %s: %w", a.Path, err)
		}
		if backup != "" {
			backups[i] = backup
			leftovers = append(leftovers, backup)
		}
	}

	for i, a := range artifacts {
		if err := os.Rename(staged[i], a.Path); err != nil {
			err = fmt.Errorf("publish %s: %w", a.Path, err)
			return errors.Join(err, rollback(artifacts[:i], backups[:i]))
		}
	}
	return nil
}

// backupOf stages a copy of the regular file at path. It returns "" when
// there is nothing to restore.
func backupOf(path string) (string, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return stage(Artifact{Path: path, Data: data})
}

func rollback(published []Artifact, backups []string) error {
	var errs []error
	for i, a := range published {
		var err error
		if backups[i] == "" {
			err = os.Remove(a.Path)
		} else {
			err = os.Rename(backups[i], a.Path)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", a.Path, err))
		}
	}
	return errors.Join(errs...)
}

func stage(a Artifact) (string, error) {
	dir := filepath.Dir(a.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(a.Path)+".*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(a.Data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// ArtifactVersion returns a short content hash over the given files, in order.
func ArtifactVersion(paths ...string) (string, error) {
	h := sha256.New()
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("hash %s: %w", p, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:12], nil
}
