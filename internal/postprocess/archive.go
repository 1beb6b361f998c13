// Package postprocess runs once a backup has settled: it archives the output
// root, uploads the archive, records the run and sends notifications.
package postprocess

import (
	"archive/zip"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	apperrors "github.com/kurihiro0119/github-backup/internal/errors"
)

// ArchiveName is the file written at the output root
const ArchiveName = "backup.zip"

// Archiver compresses a directory into a single file
type Archiver interface {
	CompressDirectory(ctx context.Context, src string) (string, error)
}

// ZipArchiver writes <src>/backup.zip
type ZipArchiver struct{}

// NewZipArchiver creates a zip archiver
func NewZipArchiver() *ZipArchiver {
	return &ZipArchiver{}
}

// CompressDirectory zips every file and directory under src into
// <src>/backup.zip, replacing an existing archive. The archive never contains
// itself.
func (a *ZipArchiver) CompressDirectory(ctx context.Context, src string) (string, error) {
	dest := filepath.Join(src, ArchiveName)
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return "", apperrors.NewIOError(dest, err)
	}

	out, err := os.Create(dest)
	if err != nil {
		return "", apperrors.NewIOError(dest, err)
	}

	zw := zip.NewWriter(out)
	walkErr := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == src || path == dest {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		return addEntry(zw, path, filepath.ToSlash(rel), d)
	})

	closeErr := zw.Close()
	if err := out.Close(); err != nil && closeErr == nil {
		closeErr = err
	}
	if walkErr != nil || closeErr != nil {
		os.Remove(dest)
		if walkErr != nil {
			return "", apperrors.NewIOError(dest, walkErr)
		}
		return "", apperrors.NewIOError(dest, closeErr)
	}
	return dest, nil
}

func addEntry(zw *zip.Writer, path, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	switch {
	case d.IsDir():
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = name + "/"
		_, err = zw.CreateHeader(header)
		return err
	case info.Mode().IsRegular():
	default:
		// sockets, devices and symlinks are not part of a backup
		return nil
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
