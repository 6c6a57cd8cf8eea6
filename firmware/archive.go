package firmware

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// ==========================================================
// ARCHIVE LIMITS (zip bomb protection)
// ==========================================================

const (
	// MaxArchiveSize is the maximum accepted size of an ESP32 firmware bundle (64MB)
	MaxArchiveSize = 64 * 1024 * 1024

	// MaxEntrySize is the maximum uncompressed size of one file in the bundle (32MB)
	MaxEntrySize = 32 * 1024 * 1024

	// MaxTotalExtractedSize is the maximum total size of all extracted files (128MB)
	MaxTotalExtractedSize = 128 * 1024 * 1024

	// MaxFilesInArchive is the maximum number of entries allowed in a bundle
	MaxFilesInArchive = 100
)

// ESP32 bundle payloads and the flash offsets esptool writes them to.
const (
	BootloaderFile  = "bootloader.bin"
	PartitionFile   = "partition-table.bin"
	ApplicationFile = "micropython.bin"

	BootloaderAddr  = "0x1000"
	PartitionAddr   = "0x8000"
	ApplicationAddr = "0x10000"
)

var (
	ErrBadArchive     = errors.New("provided ESP32 firmware is of wrong type")
	ErrArchiveLimits  = errors.New("firmware archive exceeds size limits")
	ErrMissingPayload = errors.New("firmware payload missing")
)

// MissingPayloadError names the payload that was not found after extraction.
type MissingPayloadError struct {
	Path string
}

func (e *MissingPayloadError) Error() string {
	return fmt.Sprintf("%s not found when checking esp32 zip.", e.Path)
}

func (e *MissingPayloadError) Is(target error) bool {
	return target == ErrMissingPayload
}

// Payload is one image and the address it is flashed to.
type Payload struct {
	Addr string
	Path string
}

// Bundle is an extracted ESP32 firmware archive.
type Bundle struct {
	Dir         string
	Bootloader  string
	Partitions  string
	Application string
}

// Payloads returns the images in flashing order, application last.
func (b *Bundle) Payloads() []Payload {
	return []Payload{
		{Addr: BootloaderAddr, Path: b.Bootloader},
		{Addr: PartitionAddr, Path: b.Partitions},
		{Addr: ApplicationAddr, Path: b.Application},
	}
}

// Scratch is a lazily created directory for extracted payloads.
type Scratch struct {
	fs     afero.Fs
	parent string
	dir    string
}

// NewScratch returns a scratch area under parent ("" means the system temp dir).
func NewScratch(fs afero.Fs, parent string) *Scratch {
	if parent == "" {
		parent = os.TempDir()
	}
	return &Scratch{fs: fs, parent: parent}
}

// Dir creates the scratch directory on first use and returns its path.
func (s *Scratch) Dir() (string, error) {
	if s.dir != "" {
		return s.dir, nil
	}
	if err := s.fs.MkdirAll(s.parent, 0755); err != nil {
		return "", fmt.Errorf("failed to create scratch parent: %w", err)
	}
	dir, err := afero.TempDir(s.fs, s.parent, "fwupload-")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	s.dir = dir
	return dir, nil
}

// Created reports whether Dir has been called since the last Remove.
func (s *Scratch) Created() bool {
	return s.dir != ""
}

// Remove deletes the scratch directory if it exists.
func (s *Scratch) Remove() error {
	if s.dir == "" {
		return nil
	}
	dir := s.dir
	s.dir = ""
	if err := s.fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove scratch directory: %w", err)
	}
	return nil
}

// Extract unpacks a zip archive into dest, enforcing the archive limits.
func Extract(fs afero.Fs, archivePath, dest string) error {
	f, err := fs.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open firmware archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat firmware archive: %w", err)
	}
	if info.Size() > MaxArchiveSize {
		return fmt.Errorf("%w: archive is %d bytes (max %dMB)", ErrArchiveLimits, info.Size(), MaxArchiveSize/(1024*1024))
	}

	r, err := zip.NewReader(f, info.Size())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadArchive, err)
	}
	if len(r.File) > MaxFilesInArchive {
		return fmt.Errorf("%w: too many files in archive (max %d)", ErrArchiveLimits, MaxFilesInArchive)
	}

	cleanDest := filepath.Clean(dest)
	var total uint64
	for _, zf := range r.File {
		target := filepath.Join(cleanDest, filepath.FromSlash(zf.Name))
		if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(filepath.Separator)) {
			return fmt.Errorf("%w: entry %q escapes the extraction directory", ErrBadArchive, zf.Name)
		}

		if zf.FileInfo().IsDir() {
			if err := fs.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create %s: %w", target, err)
			}
			continue
		}

		if zf.UncompressedSize64 > MaxEntrySize {
			return fmt.Errorf("%w: %s is too large (max %dMB)", ErrArchiveLimits, zf.Name, MaxEntrySize/(1024*1024))
		}
		if total+zf.UncompressedSize64 > MaxTotalExtractedSize {
			return fmt.Errorf("%w: total extracted size exceeds %dMB", ErrArchiveLimits, MaxTotalExtractedSize/(1024*1024))
		}

		n, err := extractEntry(fs, zf, target)
		if err != nil {
			return err
		}
		total += uint64(n)
	}
	return nil
}

func extractEntry(fs afero.Fs, zf *zip.File, target string) (int64, error) {
	if err := fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
	}

	rc, err := zf.Open()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadArchive, err)
	}
	defer rc.Close()

	out, err := fs.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", target, err)
	}
	defer out.Close()

	// +1 to detect an entry lying about its size
	n, err := io.Copy(out, io.LimitReader(rc, MaxEntrySize+1))
	if err != nil {
		return n, fmt.Errorf("failed to extract %s: %w", zf.Name, err)
	}
	if n > MaxEntrySize {
		return n, fmt.Errorf("%w: %s exceeded size limit during extraction", ErrArchiveLimits, zf.Name)
	}
	return n, nil
}

// Locate finds the extracted payloads. Bundles usually unpack into a folder
// named after the archive; otherwise the payloads may sit at the top level
// or in the first directory found.
func Locate(fs afero.Fs, dest, archivePath string) (*Bundle, error) {
	name := strings.TrimSuffix(filepath.Base(archivePath), filepath.Ext(archivePath))
	dir := filepath.Join(dest, name)

	if ok, _ := afero.DirExists(fs, dir); !ok {
		dir = dest
		if ok, _ := afero.Exists(fs, filepath.Join(dest, ApplicationFile)); !ok {
			if first := firstDir(fs, dest); first != "" {
				dir = first
			}
		}
	}

	b := &Bundle{
		Dir:         dir,
		Bootloader:  filepath.Join(dir, BootloaderFile),
		Partitions:  filepath.Join(dir, PartitionFile),
		Application: filepath.Join(dir, ApplicationFile),
	}
	for _, p := range b.Payloads() {
		if ok, _ := afero.Exists(fs, p.Path); !ok {
			return nil, &MissingPayloadError{Path: p.Path}
		}
	}
	return b, nil
}

func firstDir(fs afero.Fs, dest string) string {
	entries, err := afero.ReadDir(fs, dest)
	if err != nil {
		return ""
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if e.IsDir() {
			return filepath.Join(dest, e.Name())
		}
	}
	return ""
}

// Prepare extracts an ESP32 bundle into the scratch directory and checks
// that all three payloads are present.
func Prepare(fs afero.Fs, scratch *Scratch, archivePath string) (*Bundle, error) {
	dir, err := scratch.Dir()
	if err != nil {
		return nil, err
	}
	if err := Extract(fs, archivePath, dir); err != nil {
		return nil, err
	}
	return Locate(fs, dir, archivePath)
}
