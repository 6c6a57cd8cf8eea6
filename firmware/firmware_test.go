package firmware

import (
	"archive/zip"
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name              string
		path              string
		allowedExtensions []string
		wantErr           error
		wantPath          string
	}{
		{
			name:              "valid absolute bundle",
			path:              "/home/test/ESP32_GENERIC-v1.22.0.zip",
			allowedExtensions: Extensions,
			wantPath:          "/home/test/ESP32_GENERIC-v1.22.0.zip",
		},
		{
			name:              "uppercase extension",
			path:              "/home/test/RPI_PICO.UF2",
			allowedExtensions: Extensions,
			wantPath:          "/home/test/RPI_PICO.UF2",
		},
		{
			name:              "teensy hex",
			path:              "/home/test/TEENSY41.hex",
			allowedExtensions: Extensions,
			wantPath:          "/home/test/TEENSY41.hex",
		},
		{
			name:              "empty path",
			path:              "",
			allowedExtensions: Extensions,
			wantErr:           ErrEmptyPath,
		},
		{
			name:              "relative path",
			path:              "firmware.uf2",
			allowedExtensions: Extensions,
			wantErr:           ErrPathNotAbsolute,
		},
		{
			name:              "traversal resolved by clean",
			path:              "/home/test/../../etc/firmware.uf2",
			allowedExtensions: Extensions,
			wantPath:          "/etc/firmware.uf2",
		},
		{
			name:              "invalid extension",
			path:              "/home/test/firmware.exe",
			allowedExtensions: Extensions,
			wantErr:           ErrInvalidExtension,
		},
		{
			name:     "no extension restrictions",
			path:     "/home/test/anything.bin",
			wantPath: "/home/test/anything.bin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidatePath(tt.path, tt.allowedExtensions)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidatePath() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.wantPath {
				t.Errorf("ValidatePath() = %q, want %q", got, tt.wantPath)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		processor string
		path      string
		want      Family
	}{
		{"ESP32", "/fw/x.bin", FamilyESP32},
		{"rp2", "/fw/x.zip", FamilyRP2},
		{"RP2040", "", FamilyRP2},
		{"Teensy", "/fw/x.uf2", FamilyTeensy},
		{"", "/fw/ESP32_GENERIC.zip", FamilyESP32},
		{"", "/fw/RPI_PICO.uf2", FamilyRP2},
		{"", "/fw/TEENSY40.hex", FamilyTeensy},
		{"SAMD21", "/fw/firmware.elf", FamilyTeensy},
		{"", "/fw/readme.txt", FamilyUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.processor+tt.path, func(t *testing.T) {
			if got := Resolve(tt.processor, tt.path); got != tt.want {
				t.Errorf("Resolve(%q, %q) = %v, want %v", tt.processor, tt.path, got, tt.want)
			}
		})
	}

	if _, err := ParseFamily("AVR"); err == nil {
		t.Error("ParseFamily(AVR) should fail")
	}
}

func TestTeensyBoardCode(t *testing.T) {
	if got := TeensyBoardCode("Teensy 4.1"); got != "TEENSY41" {
		t.Errorf("TeensyBoardCode(Teensy 4.1) = %q", got)
	}
	if got := TeensyBoardCode("Teensy 4.0"); got != "TEENSY40" {
		t.Errorf("TeensyBoardCode(Teensy 4.0) = %q", got)
	}
}

// writeZip builds an archive in the memory filesystem from name -> content.
func writeZip(t *testing.T, fs afero.Fs, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestPrepareBundle(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		wantDir string
	}{
		{
			name: "folder named after archive",
			files: map[string]string{
				"ESP32_GENERIC/bootloader.bin":      "b",
				"ESP32_GENERIC/partition-table.bin": "p",
				"ESP32_GENERIC/micropython.bin":     "m",
			},
			wantDir: "ESP32_GENERIC",
		},
		{
			name: "flat archive",
			files: map[string]string{
				"bootloader.bin":      "b",
				"partition-table.bin": "p",
				"micropython.bin":     "m",
			},
		},
		{
			name: "differently named folder",
			files: map[string]string{
				"build/bootloader.bin":      "b",
				"build/partition-table.bin": "p",
				"build/micropython.bin":     "m",
			},
			wantDir: "build",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			writeZip(t, fs, "/fw/ESP32_GENERIC.zip", tt.files)
			scratch := NewScratch(fs, "/scratch")

			b, err := Prepare(fs, scratch, "/fw/ESP32_GENERIC.zip")
			if err != nil {
				t.Fatalf("Prepare() error = %v", err)
			}
			dir, _ := scratch.Dir()
			if want := filepath.Join(dir, tt.wantDir); b.Dir != want {
				t.Errorf("bundle dir = %q, want %q", b.Dir, want)
			}
			payloads := b.Payloads()
			if payloads[2].Addr != ApplicationAddr || filepath.Base(payloads[2].Path) != ApplicationFile {
				t.Errorf("application payload = %+v", payloads[2])
			}

			if err := scratch.Remove(); err != nil {
				t.Fatal(err)
			}
			if ok, _ := afero.DirExists(fs, dir); ok {
				t.Error("scratch directory still exists after Remove")
			}
		})
	}
}

func TestPrepareMissingApplication(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/fw/ESP32_GENERIC.zip", map[string]string{
		"ESP32_GENERIC/bootloader.bin":      "b",
		"ESP32_GENERIC/partition-table.bin": "p",
	})

	_, err := Prepare(fs, NewScratch(fs, "/scratch"), "/fw/ESP32_GENERIC.zip")
	if !errors.Is(err, ErrMissingPayload) {
		t.Fatalf("Prepare() error = %v, want ErrMissingPayload", err)
	}
	if !strings.Contains(err.Error(), ApplicationFile+" not found when checking esp32 zip.") {
		t.Errorf("error %q does not name %s", err, ApplicationFile)
	}
}

func TestExtractRejectsBadArchives(t *testing.T) {
	fs := afero.NewMemMapFs()

	if err := afero.WriteFile(fs, "/fw/not-a-zip.zip", []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := Extract(fs, "/fw/not-a-zip.zip", "/out"); !errors.Is(err, ErrBadArchive) {
		t.Errorf("non-zip: error = %v, want ErrBadArchive", err)
	}

	writeZip(t, fs, "/fw/escape.zip", map[string]string{"../evil.bin": "x"})
	if err := Extract(fs, "/fw/escape.zip", "/out"); !errors.Is(err, ErrBadArchive) {
		t.Errorf("escaping entry: error = %v, want ErrBadArchive", err)
	}

	many := map[string]string{}
	for i := 0; i <= MaxFilesInArchive; i++ {
		many[filepath.Join("d", strings.Repeat("a", i+1))] = ""
	}
	writeZip(t, fs, "/fw/many.zip", many)
	if err := Extract(fs, "/fw/many.zip", "/out"); !errors.Is(err, ErrArchiveLimits) {
		t.Errorf("too many entries: error = %v, want ErrArchiveLimits", err)
	}
}

func TestScratchIsLazy(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewScratch(fs, "/scratch")
	if s.Created() {
		t.Fatal("scratch created before first use")
	}
	if err := s.Remove(); err != nil {
		t.Errorf("Remove before use = %v", err)
	}
	dir, err := s.Dir()
	if err != nil {
		t.Fatal(err)
	}
	again, _ := s.Dir()
	if dir != again {
		t.Errorf("Dir() changed between calls: %q then %q", dir, again)
	}
}
