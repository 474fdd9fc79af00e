package builder

import (
	"archive/tar"
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// injectedDockerfileName is where the rendered pipeline lands inside the
// context tarball. A dotfile name keeps it clear of any Dockerfile the
// project tree might already carry.
const injectedDockerfileName = ".stackd.dockerfile"

// excludedDirs never enter the build context. They are either VCS metadata
// or derived artifacts that the pipeline rebuilds inside the image anyway.
var excludedDirs = map[string]bool{
	".git":         true,
	".venv":        true,
	"__pycache__":  true,
	"node_modules": true,
	".stackd":      true,
}

// packContext tars the context directory in memory and appends the rendered
// Dockerfile under injectedDockerfileName.
func packContext(dir, dockerfile string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if excludedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return writeDirHeader(tw, rel)
		}

		if !d.Type().IsRegular() {
			// Symlinks and devices stay out of the context.
			return nil
		}
		return writeFile(tw, path, rel, d)
	})
	if err != nil {
		return nil, err
	}

	if err := writeInjected(tw, dockerfile); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	return &buf, nil
}

func writeDirHeader(tw *tar.Writer, rel string) error {
	return tw.WriteHeader(&tar.Header{
		Name:     toTarPath(rel) + "/",
		Typeflag: tar.TypeDir,
		Mode:     0o755,
	})
}

func writeFile(tw *tar.Writer, path, rel string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = toTarPath(rel)

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}

func writeInjected(tw *tar.Writer, dockerfile string) error {
	hdr := &tar.Header{
		Name: injectedDockerfileName,
		Mode: 0o644,
		Size: int64(len(dockerfile)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.WriteString(tw, dockerfile)
	return err
}

func toTarPath(rel string) string {
	return strings.ReplaceAll(rel, string(filepath.Separator), "/")
}
