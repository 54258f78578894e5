// Package archive bundles a database dump, the bolt snapshot, the SQLite
// export and the configuration into one checksummed .tar.gz file.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const manifestName = "manifest.json"

// Archive member names.
const (
	memberFlatFile = "data/db.flat"
	memberBolt     = "data/db.bolt"
	memberSQL      = "data/db.sqlite"
	confPrefix     = "conf/"
)

var ErrNoManifest = errors.New("archive: manifest.json not found")

// Manifest describes the contents of an archive.
type Manifest struct {
	Version   int                  `json:"version"`
	Timestamp string               `json:"timestamp"`
	Name      string               `json:"name"`
	Top       int                  `json:"top"`
	Live      int                  `json:"live"`
	DBVersion int                  `json:"db_version"`
	Files     map[string]FileEntry `json:"files"`
}

// FileEntry describes a single file within the archive.
type FileEntry struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
	Type   string `json:"type"` // "flatfile", "bolt", "sql", "conf"
}

// Params holds the inputs needed to create an archive. Each producer
// writes its file to the staging path it is given; nil producers are
// skipped.
type Params struct {
	FlatFile   func(dest string) error // flatfile dump
	Bolt       func(dest string) error // bolt snapshot
	SQL        func(dest string) error // SQLite export
	ConfPath   string                  // config file (empty = skip)
	ArchiveDir string                  // output directory
	Name       string                  // world name for the manifest
	Top        int
	Live       int
	DBVersion  int
	Now        time.Time // zero = time.Now()
}

// Create writes a new archive into p.ArchiveDir and returns its path.
func Create(p Params) (string, error) {
	if err := os.MkdirAll(p.ArchiveDir, 0755); err != nil {
		return "", fmt.Errorf("archive: create dir %s: %w", p.ArchiveDir, err)
	}
	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}
	archivePath := filepath.Join(p.ArchiveDir, fmt.Sprintf("archive-%s.tar.gz", now.Format("20060102-150405")))

	tmpDir, err := os.MkdirTemp("", "musedb-archive-*")
	if err != nil {
		return "", fmt.Errorf("archive: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	var files []member
	producers := []struct {
		name, kind string
		fn         func(string) error
	}{
		{memberFlatFile, "flatfile", p.FlatFile},
		{memberBolt, "bolt", p.Bolt},
		{memberSQL, "sql", p.SQL},
	}
	for _, prod := range producers {
		if prod.fn == nil {
			continue
		}
		dest := filepath.Join(tmpDir, filepath.Base(prod.name))
		if err := prod.fn(dest); err != nil {
			return "", fmt.Errorf("archive: stage %s: %w", prod.kind, err)
		}
		files = append(files, member{prod.name, dest, prod.kind})
	}
	if p.ConfPath != "" {
		if _, err := os.Stat(p.ConfPath); err == nil {
			files = append(files, member{confPrefix + filepath.Base(p.ConfPath), p.ConfPath, "conf"})
		}
	}

	manifest := Manifest{
		Version:   1,
		Timestamp: now.UTC().Format(time.RFC3339),
		Name:      p.Name,
		Top:       p.Top,
		Live:      p.Live,
		DBVersion: p.DBVersion,
		Files:     make(map[string]FileEntry),
	}

	tmpArchive := archivePath + ".tmp"
	if err := writeArchive(tmpArchive, files, &manifest, now); err != nil {
		os.Remove(tmpArchive)
		return "", err
	}
	if err := os.Rename(tmpArchive, archivePath); err != nil {
		os.Remove(tmpArchive)
		return "", fmt.Errorf("archive: rename: %w", err)
	}
	return archivePath, nil
}

// member is a staged file and its name inside the archive.
type member struct {
	name, path, kind string
}

func writeArchive(path string, files []member, m *Manifest, now time.Time) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("archive: create %s: %w", path, err)
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)
	for _, f := range files {
		entry, err := addFile(tw, f.path, f.name)
		if err != nil {
			return err
		}
		entry.Type = f.kind
		m.Files[f.name] = entry
	}

	// manifest goes last so it can cover every member
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: marshal manifest: %w", err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    manifestName,
		Size:    int64(len(data)),
		Mode:    0644,
		ModTime: now,
	}); err != nil {
		return fmt.Errorf("archive: write manifest header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("archive: write manifest: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("archive: close tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("archive: close gzip: %w", err)
	}
	return out.Close()
}

// addFile copies srcPath into the tar under name, hashing it on the way.
func addFile(tw *tar.Writer, srcPath, name string) (FileEntry, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: open %s: %w", srcPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: stat %s: %w", srcPath, err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    name,
		Size:    info.Size(),
		Mode:    0644,
		ModTime: info.ModTime(),
	}); err != nil {
		return FileEntry{}, fmt.Errorf("archive: header %s: %w", name, err)
	}

	h := sha256.New()
	written, err := io.Copy(tw, io.TeeReader(f, h))
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: write %s: %w", name, err)
	}
	return FileEntry{SHA256: hex.EncodeToString(h.Sum(nil)), Size: written}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
