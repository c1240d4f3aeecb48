package runtime

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
)

// ExtractTarGz unpacks the gzip tarball at archivePath into dest, dropping the
// first path component of every entry. File ownership in the archive is
// ignored; extracted files belong to the running user.
func ExtractTarGz(fs afero.Fs, archivePath, dest string) (int, error) {
	f, err := fs.Open(archivePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("failed to read gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	count := 0
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("failed to read archive entry: %w", err)
		}

		rel, ok := stripFirst(hdr.Name)
		if !ok {
			continue
		}
		target := filepath.Join(dest, filepath.FromSlash(rel))
		if !within(dest, target) {
			return count, fmt.Errorf("archive entry %q escapes %s", hdr.Name, dest)
		}
		if link, ok := viaSymlink(fs, dest, target); ok {
			return count, fmt.Errorf("archive entry %q is written through symlink %s", hdr.Name, link)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := fs.MkdirAll(target, dirMode(hdr)); err != nil {
				return count, fmt.Errorf("failed to create %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := writeFile(fs, target, tr, hdr); err != nil {
				return count, err
			}
		case tar.TypeSymlink:
			if err := checkLink(fs, dest, target, hdr.Linkname); err != nil {
				return count, fmt.Errorf("archive entry %q: %w", hdr.Name, err)
			}
			if err := symlink(fs, hdr.Linkname, target); err != nil {
				return count, err
			}
		case tar.TypeLink:
			linkRel, ok := stripFirst(hdr.Linkname)
			if !ok {
				continue
			}
			src := filepath.Join(dest, filepath.FromSlash(linkRel))
			if _, through := viaSymlink(fs, dest, src); through || isSymlink(fs, src) {
				return count, fmt.Errorf("archive entry %q links to symlink %s", hdr.Name, hdr.Linkname)
			}
			if err := copyFile(fs, src, target); err != nil {
				return count, err
			}
		default:
			continue
		}
		count++
	}
}

// stripFirst removes the archive's top-level directory, as tar --strip-components=1.
func stripFirst(name string) (string, bool) {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	i := strings.IndexByte(name, '/')
	if i < 0 || i == len(name)-1 {
		return "", false
	}
	return name[i+1:], true
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// checkLink rejects a symlink at target whose destination lies outside dest.
// The link is resolved component by component and may not pass through
// another symlink, so the textual result is where it really points.
func checkLink(fs afero.Fs, dest, target, linkname string) error {
	if path.IsAbs(linkname) || filepath.IsAbs(linkname) {
		return fmt.Errorf("absolute symlink target %q", linkname)
	}

	parts := strings.Split(filepath.ToSlash(linkname), "/")
	cur := filepath.Dir(target)
	for i, p := range parts {
		switch p {
		case "", ".":
			continue
		case "..":
			cur = filepath.Dir(cur)
		default:
			cur = filepath.Join(cur, p)
			if i < len(parts)-1 && isSymlink(fs, cur) {
				return fmt.Errorf("symlink target %q passes through symlink %s", linkname, cur)
			}
		}
		if !within(dest, cur) {
			return fmt.Errorf("symlink target %q escapes %s", linkname, dest)
		}
	}
	return nil
}

// viaSymlink returns the first directory between dest and target that is a
// symlink.
func viaSymlink(fs afero.Fs, dest, target string) (string, bool) {
	rel, err := filepath.Rel(dest, filepath.Dir(target))
	if err != nil || rel == "." {
		return "", false
	}
	cur := dest
	for _, p := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, p)
		if isSymlink(fs, cur) {
			return cur, true
		}
	}
	return "", false
}

func isSymlink(fs afero.Fs, name string) bool {
	lstater, ok := fs.(afero.Lstater)
	if !ok {
		return false
	}
	info, lstat, err := lstater.LstatIfPossible(name)
	return err == nil && lstat && info.Mode()&os.ModeSymlink != 0
}

func dirMode(hdr *tar.Header) os.FileMode {
	return os.FileMode(hdr.Mode).Perm() | 0o700
}

func writeFile(fs afero.Fs, target string, r io.Reader, hdr *tar.Header) error {
	if err := fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
	}
	// Replace rather than truncate so a running binary keeps its old inode.
	_ = fs.Remove(target)

	out, err := fs.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	return fs.Chmod(target, os.FileMode(hdr.Mode).Perm())
}

func symlink(fs afero.Fs, oldname, newname string) error {
	linker, ok := fs.(afero.Linker)
	if !ok {
		return fmt.Errorf("filesystem cannot create symlink %s", newname)
	}
	if err := fs.MkdirAll(filepath.Dir(newname), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(newname), err)
	}
	_ = fs.Remove(newname)
	if err := linker.SymlinkIfPossible(oldname, newname); err != nil {
		return fmt.Errorf("failed to link %s: %w", newname, err)
	}
	return nil
}

func copyFile(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open link source %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}
	return writeFile(fs, dst, in, &tar.Header{Mode: int64(info.Mode().Perm())})
}
