package matlib

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// packageExtractDir is the directory inside P-{id8} holding the extracted zip.
const packageExtractDir = "package"

// ExtractPackage extracts the zip at zipPath into dir/package and returns
// the path of the first .mtlx document under it (lexical walk order).
//
// An existing extraction is reused unless WithRefresh is given. Extraction
// happens in a temporary sibling directory which is renamed into place once
// complete, so a cancelled or failed extraction never leaves a partial tree.
// Archive entries that would land outside the extraction root are rejected
// with ErrCatalogError. A package without any .mtlx yields ErrNoMaterialX.
func ExtractPackage(ctx context.Context, zipPath, dir string, opts ...FetchOption) (string, error) {
	cfg := newFetchConfig(opts...)
	dest := filepath.Join(dir, packageExtractDir)

	if info, err := os.Stat(dest); err == nil && info.IsDir() && !cfg.refresh {
		return findMaterialX(dest)
	}

	tmp, err := os.MkdirTemp(dir, "."+packageExtractDir+tempMarker+"*")
	if err != nil {
		return "", fmt.Errorf("%w: failed to create extraction directory: %v", ErrStorageError, err)
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(tmp)
		}
	}()

	if err := unzip(ctx, zipPath, tmp); err != nil {
		return "", err
	}

	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("%w: failed to remove old extraction: %v", ErrStorageError, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return "", fmt.Errorf("%w: failed to move extraction into place: %v", ErrStorageError, err)
	}
	committed = true

	return findMaterialX(dest)
}

// unzip writes every entry of the archive below root.
func unzip(ctx context.Context, zipPath, root string) error {
	r, err := zip.OpenReader(zipPath)
	if r != nil {
		defer r.Close()
	}
	if err != nil {
		return fmt.Errorf("opening %s: %w: %v", filepath.Base(zipPath), ErrCatalogError, err)
	}

	for _, f := range r.File {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		target, err := entryPath(root, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("%w: creating directory %s: %v", ErrStorageError, f.Name, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("%w: creating directory for %s: %v", ErrStorageError, f.Name, err)
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

// entryPath resolves an archive entry name below root, rejecting names
// that are absolute or climb out of it.
func entryPath(root, name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("archive entry %q is absolute: %w", name, ErrCatalogError)
	}
	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes the package directory: %w", name, ErrCatalogError)
	}
	return target, nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening archive entry %s: %w: %v", f.Name, ErrCatalogError, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("%w: creating file %s: %v", ErrStorageError, f.Name, err)
	}

	_, err = io.Copy(out, rc)
	closeErr := out.Close()
	if err != nil {
		return fmt.Errorf("extracting %s: %w: %v", f.Name, ErrCatalogError, err)
	}
	if closeErr != nil {
		return fmt.Errorf("%w: closing file %s: %v", ErrStorageError, f.Name, closeErr)
	}
	return nil
}

// findMaterialX returns the first *.mtlx file below root.
func findMaterialX(root string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".mtlx") {
			found = p
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: scanning %s: %v", ErrStorageError, root, err)
	}
	if found == "" {
		return "", fmt.Errorf("%s: %w", root, ErrNoMaterialX)
	}
	return found, nil
}
