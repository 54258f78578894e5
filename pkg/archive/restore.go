package archive

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// RestoreParams holds the destinations of a restore. Empty destinations
// are skipped.
type RestoreParams struct {
	ArchivePath  string
	FlatFileDest string
	BoltDest     string
	SQLDest      string
	ConfDest     string
	Stdin        io.Reader // answers to config prompts; nil keeps current configs
	Stdout       io.Writer
}

// RestoreResult summarizes a completed restore.
type RestoreResult struct {
	Manifest      Manifest
	FilesRestored int
	Warnings      []string
}

// Restore extracts an archive, verifies every checksum in its manifest and
// copies the members to their destinations. Nothing is copied unless every
// checksum matches.
func Restore(p RestoreParams) (*RestoreResult, error) {
	tmpDir, err := os.MkdirTemp("", "musedb-restore-*")
	if err != nil {
		return nil, fmt.Errorf("archive: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := extract(p.ArchivePath, tmpDir); err != nil {
		return nil, fmt.Errorf("archive: extract: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, manifestName))
	if err != nil {
		return nil, ErrNoManifest
	}
	result := &RestoreResult{}
	if err := json.Unmarshal(data, &result.Manifest); err != nil {
		return nil, fmt.Errorf("archive: parse manifest: %w", err)
	}

	for name, entry := range result.Manifest.Files {
		ok, err := checksumMatches(filepath.Join(tmpDir, filepath.FromSlash(name)), entry.SHA256)
		if err != nil {
			return nil, fmt.Errorf("archive: checksum %s: %w", name, err)
		}
		if !ok {
			return nil, fmt.Errorf("archive: checksum mismatch for %s", name)
		}
	}

	for _, r := range []struct{ member, dest string }{
		{memberFlatFile, p.FlatFileDest},
		{memberBolt, p.BoltDest},
		{memberSQL, p.SQLDest},
	} {
		src := filepath.Join(tmpDir, filepath.FromSlash(r.member))
		if _, err := os.Stat(src); err != nil || r.dest == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(r.dest), 0755); err != nil {
			return nil, fmt.Errorf("archive: create dir for %s: %w", r.dest, err)
		}
		if err := copyFile(src, r.dest); err != nil {
			return nil, fmt.Errorf("archive: restore %s: %w", r.member, err)
		}
		result.FilesRestored++
	}

	if p.ConfDest == "" {
		return result, nil
	}
	for name := range result.Manifest.Files {
		if !strings.HasPrefix(name, confPrefix) {
			continue
		}
		src := filepath.Join(tmpDir, filepath.FromSlash(name))
		action, err := promptConfigDiff(src, p.ConfDest, p.Stdin, p.Stdout)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("config prompt for %s: %v", name, err))
			continue
		}
		if action != 'U' {
			result.Warnings = append(result.Warnings, "kept current config: "+p.ConfDest)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p.ConfDest), 0755); err != nil {
			return nil, fmt.Errorf("archive: create conf dir: %w", err)
		}
		if err := copyFile(src, p.ConfDest); err != nil {
			return nil, fmt.Errorf("archive: restore %s: %w", name, err)
		}
		result.FilesRestored++
	}
	return result, nil
}

// extract unpacks a .tar.gz into destDir, rejecting entries that escape it.
func extract(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gr.Close()

	root := filepath.Clean(destDir) + string(os.PathSeparator)
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("invalid archive entry: %s", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.Create(target)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		}
	}
}

func checksumMatches(path, expected string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	return hex.EncodeToString(h.Sum(nil)) == expected, nil
}

// promptConfigDiff asks whether an archived config should replace the
// current one. It returns 'U' (use archived), 'K' (keep current) or 'S'
// (skip, identical or no answer).
func promptConfigDiff(src, dest string, stdin io.Reader, stdout io.Writer) (byte, error) {
	if _, err := os.Stat(dest); os.IsNotExist(err) {
		return 'U', nil
	}
	srcData, err := os.ReadFile(src)
	if err != nil {
		return 0, err
	}
	destData, err := os.ReadFile(dest)
	if err != nil {
		return 0, err
	}
	if string(srcData) == string(destData) {
		return 'S', nil
	}
	if stdin == nil {
		return 'K', nil
	}
	if stdout == nil {
		stdout = io.Discard
	}

	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprintf(stdout, "\nConfig file %q differs from archive.\n", filepath.Base(dest))
		fmt.Fprintf(stdout, "[K]eep current  [U]se archived  [D]iff  [S]kip: ")
		if !scanner.Scan() {
			return 'S', nil
		}
		input := strings.TrimSpace(strings.ToUpper(scanner.Text()))
		if input == "" {
			continue
		}
		switch input[0] {
		case 'K', 'U', 'S':
			return input[0], nil
		case 'D':
			lineDiff(string(destData), string(srcData), stdout)
		default:
			fmt.Fprintf(stdout, "Please enter K, U, D, or S.\n")
		}
	}
}

// lineDiff prints the lines that differ position by position.
func lineDiff(current, archived string, w io.Writer) {
	cur := strings.Split(current, "\n")
	arc := strings.Split(archived, "\n")

	fmt.Fprintf(w, "\n--- current\n+++ archived\n")
	for i := 0; i < max(len(cur), len(arc)); i++ {
		var c, a string
		if i < len(cur) {
			c = cur[i]
		}
		if i < len(arc) {
			a = arc[i]
		}
		if c == a {
			continue
		}
		if i < len(cur) {
			fmt.Fprintf(w, "- %s\n", c)
		}
		if i < len(arc) {
			fmt.Fprintf(w, "+ %s\n", a)
		}
	}
	fmt.Fprintln(w)
}
