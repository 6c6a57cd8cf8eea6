package drives

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
)

// scriptedLister returns successive volume lists, repeating the last one.
type scriptedLister struct {
	mu    sync.Mutex
	steps [][]Volume
	calls int
}

func (s *scriptedLister) Volumes() ([]Volume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	return s.steps[i], nil
}

var (
	root = Volume{Device: "/dev/sda1", Mountpoint: "/"}
	boot = Volume{Device: "/dev/sda2", Mountpoint: "/boot"}
)

func TestSnapshotAndNewSince(t *testing.T) {
	l := &scriptedLister{steps: [][]Volume{
		{boot, root},
		{root, boot, {Mountpoint: "/media/RPI-RP2"}},
	}}
	before, err := Snapshot(l)
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != 2 || before[0] != "/" {
		t.Fatalf("Snapshot() = %v", before)
	}
	fresh, err := NewSince(l, before)
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh) != 1 || fresh[0].Mountpoint != "/media/RPI-RP2" {
		t.Errorf("NewSince() = %v", fresh)
	}
}

func TestWaitFindsDriveAfterPolling(t *testing.T) {
	l := &scriptedLister{steps: [][]Volume{
		{root},
		{root},
		{root, {Mountpoint: "/media/RPI-RP2"}},
	}}
	w := &Waiter{Lister: l, Timeout: time.Second, Interval: time.Millisecond}

	v, err := w.Wait([]string{"/"})
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if v.Mountpoint != "/media/RPI-RP2" {
		t.Errorf("Wait() = %q", v.Mountpoint)
	}
}

func TestWaitPrefersBootloaderVolume(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/media/RP2350/"+BootloaderMarker, []byte("UF2 Bootloader v1.0"), 0644); err != nil {
		t.Fatal(err)
	}
	l := &scriptedLister{steps: [][]Volume{
		{root, {Mountpoint: "/media/USBSTICK"}, {Mountpoint: "/media/RP2350"}},
	}}
	w := &Waiter{Lister: l, Fs: fs, Timeout: time.Second, Interval: time.Millisecond}

	v, err := w.Wait([]string{"/"})
	if err != nil {
		t.Fatal(err)
	}
	if v.Mountpoint != "/media/RP2350" {
		t.Errorf("Wait() = %q, want the volume carrying %s", v.Mountpoint, BootloaderMarker)
	}
}

func TestWaitTimesOut(t *testing.T) {
	l := &scriptedLister{steps: [][]Volume{{root}}}
	w := &Waiter{Lister: l, Timeout: 30 * time.Millisecond, Interval: 5 * time.Millisecond}

	start := time.Now()
	_, err := w.Wait([]string{"/"})
	if !errors.Is(err, ErrDriveTimeout) {
		t.Fatalf("Wait() error = %v, want ErrDriveTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("Wait returned after %v, before the bound", elapsed)
	}
}
