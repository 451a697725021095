package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: atomic write durability
// For any payload, a completed WriteFileAtomic followed by ReadFile
// returns exactly that payload, and repeated overwrites always read back
// the most recent payload in full.

func TestProperty_AtomicWriteRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	payloadGen := gen.SliceOf(gen.UInt8()).Map(func(bs []uint8) []byte {
		return []byte(bs)
	})

	properties.Property("write_then_read_returns_payload", prop.ForAll(
		func(payload []byte) bool {
			dir := t.TempDir()
			path := filepath.Join(dir, "state.json")

			if err := WriteFileAtomic(path, payload); err != nil {
				return false
			}
			data, ok, err := ReadFile(path)
			if err != nil || !ok {
				return false
			}
			return string(data) == string(payload)
		},
		payloadGen,
	))

	properties.Property("overwrite_reads_back_latest", prop.ForAll(
		func(first, second []byte) bool {
			dir := t.TempDir()
			path := filepath.Join(dir, "state.json")

			if err := WriteFileAtomic(path, first); err != nil {
				return false
			}
			if err := WriteFileAtomic(path, second); err != nil {
				return false
			}
			data, ok, err := ReadFile(path)
			if err != nil || !ok {
				return false
			}
			return string(data) == string(second)
		},
		payloadGen,
		payloadGen,
	))

	properties.Property("no_temp_files_left_behind", prop.ForAll(
		func(payload []byte) bool {
			dir := t.TempDir()
			path := filepath.Join(dir, "state.json")

			if err := WriteFileAtomic(path, payload); err != nil {
				return false
			}
			entries, err := os.ReadDir(dir)
			if err != nil {
				return false
			}
			return len(entries) == 1 && entries[0].Name() == "state.json"
		},
		payloadGen,
	))

	properties.TestingRun(t)
}

func TestReadFile_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")

	data, ok, err := ReadFile(path)
	if err != nil {
		t.Fatalf("missing file should not error, got: %v", err)
	}
	if ok {
		t.Fatal("missing file should report ok=false")
	}
	if data != nil {
		t.Fatalf("missing file should return nil data, got %d bytes", len(data))
	}
}

func TestWriteFileAtomic_CreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "state.json")

	if err := WriteFileAtomic(path, []byte("x")); err != nil {
		t.Fatalf("write into nested dir failed: %v", err)
	}
	data, ok, err := ReadFile(path)
	if err != nil || !ok {
		t.Fatalf("read back failed: ok=%v err=%v", ok, err)
	}
	if string(data) != "x" {
		t.Fatalf("unexpected content: %q", data)
	}
}
