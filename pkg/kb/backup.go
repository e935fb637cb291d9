package kb

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wisbric/ragserver/internal/apperr"
)

// Backup writes a zip archive of the knowledge base's working directory to
// a file under the manager's root backups directory and returns its path.
func (m *Manager) Backup(ctx context.Context, name string) (string, error) {
	h, err := m.locks.Acquire(ctx, kbLockName(name), "backup")
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "acquiring kb lock", err)
	}
	defer h.Release()

	m.mu.RLock()
	_, ok := m.known[name]
	m.mu.RUnlock()
	if !ok {
		return "", apperr.New(apperr.NotFound, "knowledge base not found: "+name)
	}

	backupDir := filepath.Join(m.root, ".backups")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", apperr.Wrap(apperr.StorageFailure, "preparing backup directory", err)
	}
	dest := filepath.Join(backupDir, fmt.Sprintf("%s-%d.zip", name, time.Now().UnixNano()))

	if err := zipDir(kbDirName(m.root, name), dest); err != nil {
		return "", apperr.Wrap(apperr.StorageFailure, "writing kb backup archive", err)
	}
	return dest, nil
}

// Restore replaces a knowledge base's working directory with the contents
// of a previously-produced backup archive. The KB must already exist;
// restore does not create new knowledge bases.
func (m *Manager) Restore(ctx context.Context, name, archivePath string) error {
	h, err := m.locks.Acquire(ctx, kbLockName(name), "restore")
	if err != nil {
		return apperr.Wrap(apperr.Internal, "acquiring kb lock", err)
	}
	defer h.Release()

	m.mu.RLock()
	_, ok := m.known[name]
	m.mu.RUnlock()
	if !ok {
		return apperr.New(apperr.NotFound, "knowledge base not found: "+name)
	}

	dir := kbDirName(m.root, name)
	if err := os.RemoveAll(dir); err != nil {
		return apperr.Wrap(apperr.StorageFailure, "clearing kb directory before restore", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.Wrap(apperr.StorageFailure, "recreating kb directory", err)
	}
	if err := unzipInto(archivePath, dir); err != nil {
		return apperr.Wrap(apperr.StorageFailure, "extracting kb backup archive", err)
	}

	meta, err := readMeta(dir)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, "reading restored kb metadata", err)
	}
	m.mu.Lock()
	m.known[name] = meta
	m.mu.Unlock()
	return nil
}

func zipDir(srcDir, destPath string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	return filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
}

func unzipInto(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		target := filepath.Join(destDir, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("kb: backup entry %q escapes destination directory", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		src, err := f.Open()
		if err != nil {
			return err
		}
		dst, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			src.Close()
			return err
		}
		_, copyErr := io.Copy(dst, src)
		src.Close()
		dst.Close()
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}
