package actions

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

var (
	ErrSameFile    = errors.New("source and destination are the same file")
	ErrSpecialFile = errors.New("cannot copy special file")
)

const copyBufSize = 64 * 1024

// copyFile streams src to dst, calling onWrite after each chunk. A
// directory dst receives the file under its own name. With followSymlinks
// false a symlink src is recreated as a link instead of copied.
func copyFile(fs afero.Fs, src, dst string, followSymlinks bool, onWrite func(n int)) (string, error) {
	if info, err := fs.Stat(dst); err == nil && info.IsDir() {
		dst = filepath.Join(dst, filepath.Base(src))
	}

	if sameFile(fs, src, dst) {
		return dst, fmt.Errorf("%w: %q and %q", ErrSameFile, src, dst)
	}

	for _, name := range []string{src, dst} {
		info, err := fs.Stat(name)
		if err != nil {
			// Most likely does not exist yet.
			continue
		}
		if info.Mode()&os.ModeNamedPipe != 0 {
			return dst, fmt.Errorf("%w: %s is a named pipe", ErrSpecialFile, name)
		}
	}

	if !followSymlinks {
		if linker, ok := fs.(afero.Symlinker); ok {
			info, _, err := linker.LstatIfPossible(src)
			if err == nil && info.Mode()&os.ModeSymlink != 0 {
				target, err := linker.ReadlinkIfPossible(src)
				if err != nil {
					return dst, fmt.Errorf("failed to read link %s: %w", src, err)
				}
				if err := linker.SymlinkIfPossible(target, dst); err != nil {
					return dst, fmt.Errorf("failed to create link %s: %w", dst, err)
				}
				return dst, nil
			}
		}
	}

	in, err := fs.Open(src)
	if err != nil {
		return dst, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return dst, fmt.Errorf("failed to create %s: %w", dst, err)
	}

	buf := make([]byte, copyBufSize)
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				return dst, fmt.Errorf("failed to write %s: %w", dst, werr)
			}
			if onWrite != nil {
				onWrite(n)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			return dst, fmt.Errorf("failed to read %s: %w", src, rerr)
		}
	}

	// The RP2 bootloader flashes as blocks land, so make sure they land.
	if err := out.Sync(); err != nil {
		out.Close()
		return dst, fmt.Errorf("failed to flush %s: %w", dst, err)
	}
	return dst, out.Close()
}

func sameFile(fs afero.Fs, a, b string) bool {
	ai, aerr := fs.Stat(a)
	bi, berr := fs.Stat(b)
	if aerr == nil && berr == nil && os.SameFile(ai, bi) {
		return true
	}
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	return err1 == nil && err2 == nil && aa == bb
}
