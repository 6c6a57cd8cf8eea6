// Package drives watches the mounted volumes for the removable drive an RP2
// board exposes in bootloader mode.
package drives

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/spf13/afero"
)

// BootloaderMarker is present on the root of a UF2 bootloader volume.
const BootloaderMarker = "INFO_UF2.TXT"

const (
	DefaultWait     = 2 * time.Second
	DefaultInterval = 10 * time.Millisecond
)

var ErrDriveTimeout = errors.New("no new drive appeared")

// Volume is one mounted filesystem.
type Volume struct {
	Device     string
	Mountpoint string
	Fstype     string
}

// Lister enumerates mounted volumes.
type Lister interface {
	Volumes() ([]Volume, error)
}

// System lists partitions through gopsutil.
type System struct{}

func (System) Volumes() ([]Volume, error) {
	parts, err := disk.Partitions(false)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}
	out := make([]Volume, 0, len(parts))
	for _, p := range parts {
		out = append(out, Volume{Device: p.Device, Mountpoint: p.Mountpoint, Fstype: p.Fstype})
	}
	return out, nil
}

// Snapshot returns the mount points currently present, sorted.
func Snapshot(l Lister) ([]string, error) {
	vols, err := l.Volumes()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(vols))
	for _, v := range vols {
		out = append(out, v.Mountpoint)
	}
	sort.Strings(out)
	return out, nil
}

// NewSince returns the volumes whose mount point is not in before.
func NewSince(l Lister, before []string) ([]Volume, error) {
	seen := make(map[string]struct{}, len(before))
	for _, m := range before {
		seen[m] = struct{}{}
	}
	vols, err := l.Volumes()
	if err != nil {
		return nil, err
	}
	var fresh []Volume
	for _, v := range vols {
		if _, ok := seen[v.Mountpoint]; !ok {
			fresh = append(fresh, v)
		}
	}
	return fresh, nil
}

// Waiter polls for a volume that was not present in a snapshot.
type Waiter struct {
	Lister   Lister
	Fs       afero.Fs
	Timeout  time.Duration
	Interval time.Duration
}

// Wait polls until a new volume appears or the timeout elapses. When several
// new volumes show up together, one carrying the UF2 marker wins.
func (w *Waiter) Wait(before []string) (Volume, error) {
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = DefaultWait
	}
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	deadline := time.Now().Add(timeout)
	for {
		fresh, err := NewSince(w.Lister, before)
		if err == nil && len(fresh) > 0 {
			return w.pick(fresh), nil
		}
		if time.Now().After(deadline) {
			return Volume{}, fmt.Errorf("%w within %v", ErrDriveTimeout, timeout)
		}
		time.Sleep(interval)
	}
}

func (w *Waiter) pick(fresh []Volume) Volume {
	if w.Fs != nil {
		for _, v := range fresh {
			if ok, _ := afero.Exists(w.Fs, filepath.Join(v.Mountpoint, BootloaderMarker)); ok {
				return v
			}
		}
	}
	return fresh[0]
}
