package source

import (
	"archive/zip"
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nlepage/go-tarfs"
)

var osAliases = map[string][]string{
	"darwin":  {"darwin", "macos", "osx", "apple", "mac"},
	"linux":   {"linux"},
	"windows": {"windows", "win64", "win32"},
	"freebsd": {"freebsd"},
	"openbsd": {"openbsd"},
	"netbsd":  {"netbsd"},
}

var archAliases = map[string][]string{
	"amd64": {"amd64", "x86_64", "x86-64", "x64"},
	"arm64": {"arm64", "aarch64"},
	"386":   {"i386", "i686", "386"},
	"arm":   {"armv7", "armv6", "armhf", "arm"},
}

var skippedSuffixes = []string{
	".sha256", ".sha256sum", ".sha512", ".md5", ".sig", ".asc", ".pem", ".sbom",
	".txt", ".json", ".deb", ".rpm", ".apk", ".msi", ".pkg", ".dmg",
}

// SelectAsset picks the asset built for goos/goarch. Assets that name no
// architecture are accepted when nothing more specific exists. Ties resolve
// to the lexically first name.
func SelectAsset(assets []Asset, goos, goarch string) (Asset, error) {
	var exact, generic []Asset
	for _, a := range assets {
		name := strings.ToLower(a.Name)
		if skippedAsset(name) || !mentionsAny(name, osAliases[goos]) {
			continue
		}
		switch arch := archOf(name); arch {
		case goarch:
			exact = append(exact, a)
		case "":
			generic = append(generic, a)
		}
	}
	pick := exact
	if len(pick) == 0 {
		pick = generic
	}
	if len(pick) == 0 {
		return Asset{}, fmt.Errorf("SRC_ASSET: no release asset for %s/%s: %w", goos, goarch, ErrNotFound)
	}
	sort.Slice(pick, func(i, j int) bool { return pick[i].Name < pick[j].Name })
	return pick[0], nil
}

func skippedAsset(name string) bool {
	for _, s := range skippedSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

func mentionsAny(name string, words []string) bool {
	for _, w := range words {
		if strings.Contains(name, w) {
			return true
		}
	}
	return false
}

// archOf reports the architecture an asset name targets, or "". 64-bit
// spellings are tested first so "x86_64" is not read as 386 and "arm64" is
// not read as arm.
func archOf(name string) string {
	for _, arch := range []string{"amd64", "arm64", "386", "arm"} {
		if mentionsAny(name, archAliases[arch]) {
			return arch
		}
	}
	return ""
}

// Unpack extracts the archive at path into dir. The format is sniffed from
// the content; anything unrecognised is treated as a bare executable.
func Unpack(path, name, dir, binName string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	br := bufio.NewReader(f)
	head, _ := br.Peek(512)
	switch {
	case bytes.HasPrefix(head, []byte{0x1F, 0x8B}):
		defer f.Close()
		gz, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		return untar(gz, dir)
	case bytes.HasPrefix(head, []byte("BZh")):
		defer f.Close()
		return untar(bzip2.NewReader(br), dir)
	case len(head) > 262 && string(head[257:262]) == "ustar":
		defer f.Close()
		return untar(br, dir)
	case bytes.HasPrefix(head, []byte("PK\x03\x04")):
		_ = f.Close()
		zr, err := zip.OpenReader(path)
		if err != nil {
			return fmt.Errorf("zip: %w", err)
		}
		defer zr.Close()
		return copyFS(zr, dir)
	case strings.HasSuffix(strings.ToLower(name), ".xz"):
		_ = f.Close()
		return errors.New("xz archives are not supported")
	}
	_ = f.Close()
	if binName == "" {
		binName = name
	}
	target := filepath.Join(dir, binName)
	if err := os.Rename(path, target); err != nil {
		return err
	}
	return os.Chmod(target, 0o755)
}

func untar(r io.Reader, dir string) error {
	fsys, err := tarfs.New(r)
	if err != nil {
		return fmt.Errorf("tar: %w", err)
	}
	return copyFS(fsys, dir)
}

// copyFS writes regular files and directories of fsys below dir, keeping the
// permission bits. Links and devices are skipped.
func copyFS(fsys fs.FS, dir string) error {
	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == "." {
			return nil
		}
		target := filepath.Join(dir, filepath.FromSlash(p))
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(fsys, p, target, info.Mode().Perm()|0o600)
	})
}

func copyFile(fsys fs.FS, name, target string, perm fs.FileMode) error {
	src, err := fsys.Open(name)
	if err != nil {
		return err
	}
	defer src.Close()
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}
