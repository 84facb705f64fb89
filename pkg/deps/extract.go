package deps

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"
)

// Extractor unpacks the downloaded file f into destPath
type Extractor func(f *os.File, bar *progressbar.ProgressBar, destPath string, spec Spec) error

// GetExtractor picks the extractor based on the URL's file extension
func GetExtractor(url string) (Extractor, error) {
	// ignore query strings like ?raw=true
	if pos := strings.IndexAny(url, "?#"); pos > -1 {
		url = url[:pos]
	}

	switch {
	case strings.HasSuffix(url, ".jar"):
		return copyFile, nil
	case strings.HasSuffix(url, ".zip"):
		return extractZip, nil
	case strings.HasSuffix(url, ".tar.gz"), strings.HasSuffix(url, ".tgz"):
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, spec Spec) error {
			reader, err := gzip.NewReader(io.TeeReader(f, bar))
			if err != nil {
				return eris.Wrap(err, "failed to open gzip stream")
			}
			defer reader.Close()

			return extractTar(reader, destPath, spec)
		}, nil
	case strings.HasSuffix(url, ".tar.bz2"):
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, spec Spec) error {
			return extractTar(bzip2.NewReader(io.TeeReader(f, bar)), destPath, spec)
		}, nil
	case strings.HasSuffix(url, ".tar.xz"):
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, spec Spec) error {
			reader, err := xz.NewReader(io.TeeReader(f, bar))
			if err != nil {
				return eris.Wrap(err, "failed to open xz stream")
			}

			return extractTar(reader, destPath, spec)
		}, nil
	case strings.HasSuffix(url, ".tar.br"):
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, spec Spec) error {
			return extractTar(brotli.NewReader(io.TeeReader(f, bar)), destPath, spec)
		}, nil
	}

	return nil, eris.Errorf("Archive format of %s not supported", url)
}

// entryPath strips spec.Strip leading elements from item and joins the rest with destPath. An empty result means
// the entry should be skipped.
func entryPath(destPath, item string, spec Spec) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(item))
	parts := strings.Split(cleaned, string(filepath.Separator))
	if len(parts) <= spec.Strip {
		return "", nil
	}

	dest := filepath.Join(destPath, strings.Join(parts[spec.Strip:], string(filepath.Separator)))
	if dest == destPath {
		return "", nil
	}

	rel, err := filepath.Rel(destPath, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", eris.Errorf("archive entry %s points outside of %s", item, destPath)
	}

	return dest, nil
}

func writeEntry(dest string, r io.Reader, mode os.FileMode) error {
	err := os.MkdirAll(filepath.Dir(dest), 0770)
	if err != nil {
		return eris.Wrapf(err, "Failed to create directory %s", filepath.Dir(dest))
	}

	if mode == 0 {
		mode = 0660
	}

	handle, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return eris.Wrapf(err, "Failed to create file %s", dest)
	}

	_, err = io.Copy(handle, r)
	if err != nil {
		handle.Close()
		return eris.Wrapf(err, "Failed to write extracted file %s", dest)
	}

	return eris.Wrapf(handle.Close(), "Failed to close %s", dest)
}

func copyFile(f *os.File, bar *progressbar.ProgressBar, destPath string, spec Spec) error {
	return writeEntry(destPath, io.TeeReader(f, bar), 0660)
}

func extractZip(f *os.File, bar *progressbar.ProgressBar, destPath string, spec Spec) error {
	stat, err := f.Stat()
	if err != nil {
		return err
	}

	archive, err := zip.NewReader(f, stat.Size())
	if err != nil {
		return eris.Wrap(err, "failed to open zip archive")
	}

	var done int64
	for _, item := range archive.File {
		if strings.HasSuffix(item.Name, "/") {
			continue
		}

		dest, err := entryPath(destPath, item.Name, spec)
		if err != nil {
			return err
		}
		if dest == "" {
			continue
		}

		itemHandle, err := item.Open()
		if err != nil {
			return eris.Wrapf(err, "Failed to open archive entry %s", item.Name)
		}

		err = writeEntry(dest, itemHandle, item.Mode().Perm())
		itemHandle.Close()
		if err != nil {
			return err
		}

		done += int64(item.CompressedSize64)
		bar.Set64(done)
	}

	return nil
}

func extractTar(r io.Reader, destPath string, spec Spec) error {
	archive := tar.NewReader(r)

	for {
		item, err := archive.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return eris.Wrap(err, "Failed to read archive entry")
		}

		dest, err := entryPath(destPath, item.Name, spec)
		if err != nil {
			return err
		}
		if dest == "" {
			continue
		}

		switch item.Typeflag {
		case tar.TypeDir:
			err = os.MkdirAll(dest, 0770)
			if err != nil {
				return eris.Wrapf(err, "Failed to create directory %s", dest)
			}
		case tar.TypeSymlink:
			err = os.MkdirAll(filepath.Dir(dest), 0770)
			if err != nil {
				return eris.Wrapf(err, "Failed to create directory %s", filepath.Dir(dest))
			}

			err = os.Symlink(item.Linkname, dest)
			if err != nil {
				return eris.Wrapf(err, "Failed to create symlink %s pointing to %s", dest, item.Linkname)
			}
		case tar.TypeReg, tar.TypeRegA:
			err = writeEntry(dest, archive, item.FileInfo().Mode().Perm())
			if err != nil {
				return err
			}
		}
	}

	return nil
}
