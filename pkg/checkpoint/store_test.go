package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.xml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	source := writeSource(t, "<Root><Record>a</Record></Root>")
	store := NewStore(source, "", nil)

	saved, err := store.Save(Checkpoint{
		BytePosition: 23,
		RecordCount:  1,
		ChunkSize:    256 * 1024,
		Session: SessionState{
			NamespacePrefix: "ns",
			HeaderProcessed: true,
			Phase:           PhaseInterrupted,
		},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.Fingerprint.Size == 0 || saved.CreatedAt.IsZero() {
		t.Error("Save did not stamp fingerprint and timestamp")
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("Load returned nil for a valid checkpoint")
	}
	if got.BytePosition != 23 || got.RecordCount != 1 {
		t.Errorf("loaded position/count = %d/%d", got.BytePosition, got.RecordCount)
	}
	if got.Session.NamespacePrefix != "ns" || got.Session.Phase != PhaseInterrupted {
		t.Errorf("session state not restored: %+v", got.Session)
	}
}

func TestStoreLoadMissing(t *testing.T) {
	source := writeSource(t, "<Root/>")
	store := NewStore(source, "", nil)

	got, err := store.Load()
	if err != nil || got != nil {
		t.Fatalf("Load = (%v, %v), want (nil, nil)", got, err)
	}
}

func TestStoreDiscardsStaleFingerprint(t *testing.T) {
	source := writeSource(t, "<Root><Record>a</Record></Root>")
	store := NewStore(source, "", nil)

	if _, err := store.Save(Checkpoint{BytePosition: 10, RecordCount: 1}); err != nil {
		t.Fatal(err)
	}

	// Mutate the source in place; the stored fingerprint must no longer match.
	if err := os.WriteFile(source, []byte("<Root><Record>b</Record></Root>"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Fatal("stale checkpoint was not discarded")
	}
}

func TestStoreDiscardsCorruptFile(t *testing.T) {
	source := writeSource(t, "<Root/>")
	store := NewStore(source, "", nil)

	if err := os.WriteFile(store.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Fatal("corrupt checkpoint was not discarded")
	}
}

func TestStoreDiscardsPositionBeyondSource(t *testing.T) {
	source := writeSource(t, "<Root><Record>abcdef</Record></Root>")
	store := NewStore(source, "", nil)

	if _, err := store.Save(Checkpoint{BytePosition: 1 << 30, RecordCount: 1}); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Fatal("out-of-range checkpoint was not discarded")
	}
}

func TestStoreClear(t *testing.T) {
	source := writeSource(t, "<Root/>")
	store := NewStore(source, "", nil)

	if _, err := store.Save(Checkpoint{}); err != nil {
		t.Fatal(err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Error("checkpoint file still present after Clear")
	}
	// Clearing again is a no-op.
	if err := store.Clear(); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
}

func TestStorePathOverride(t *testing.T) {
	source := writeSource(t, "<Root/>")
	override := filepath.Join(t.TempDir(), "elsewhere.ckpt")
	store := NewStore(source, override, nil)

	if _, err := store.Save(Checkpoint{BytePosition: 5}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(override); err != nil {
		t.Fatalf("override path not used: %v", err)
	}
}

func TestFingerprintDetectsSizeChange(t *testing.T) {
	source := writeSource(t, "<Root><Record>a</Record></Root>")
	before, err := ComputeFingerprint(source)
	if err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(source, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("<!-- tail -->"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	after, err := ComputeFingerprint(source)
	if err != nil {
		t.Fatal(err)
	}
	if before.Matches(after) {
		t.Error("fingerprint unchanged after append")
	}
}
