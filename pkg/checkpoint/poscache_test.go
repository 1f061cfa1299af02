package checkpoint

import (
	"os"
	"testing"
)

func TestPositionIndexSampleAndLookup(t *testing.T) {
	source := writeSource(t, "<Root/>")
	idx := NewPositionIndex(source, "", 100, nil)

	for rec := uint64(1); rec <= 950; rec++ {
		idx.Sample(rec, rec*37)
	}
	if idx.Len() != 9 {
		t.Fatalf("Len = %d, want 9 stride samples", idx.Len())
	}

	rec, off, ok := idx.NearestAtOrBelow(450)
	if !ok || rec != 400 || off != 400*37 {
		t.Errorf("NearestAtOrBelow(450) = (%d, %d, %v), want (400, %d, true)", rec, off, ok, 400*37)
	}

	if _, _, ok := idx.NearestAtOrBelow(99); ok {
		t.Error("found an entry below the first stride sample")
	}
}

func TestPositionIndexSaveLoad(t *testing.T) {
	source := writeSource(t, "<Root><Record>a</Record></Root>")

	idx := NewPositionIndex(source, "", 100, nil)
	idx.Sample(100, 4_000)
	idx.Sample(200, 8_100)
	if err := idx.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := NewPositionIndex(source, "", 100, nil)
	reloaded.Load()
	if reloaded.Len() != 2 {
		t.Fatalf("reloaded Len = %d, want 2", reloaded.Len())
	}
	rec, off, ok := reloaded.NearestAtOrBelow(250)
	if !ok || rec != 200 || off != 8_100 {
		t.Errorf("after reload NearestAtOrBelow(250) = (%d, %d, %v)", rec, off, ok)
	}
}

func TestPositionIndexSaveMergesExistingFile(t *testing.T) {
	source := writeSource(t, "<Root><Record>a</Record></Root>")

	first := NewPositionIndex(source, "", 100, nil)
	first.Sample(100, 4_000)
	first.Sample(200, 8_100)
	if err := first.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// A later run that never consulted the cache must not clobber the
	// earlier run's samples.
	second := NewPositionIndex(source, "", 100, nil)
	second.Sample(300, 12_300)
	if err := second.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	merged := NewPositionIndex(source, "", 100, nil)
	merged.Load()
	if merged.Len() != 3 {
		t.Fatalf("merged Len = %d, want 3", merged.Len())
	}
	rec, off, ok := merged.NearestAtOrBelow(250)
	if !ok || rec != 200 || off != 8_100 {
		t.Errorf("NearestAtOrBelow(250) = (%d, %d, %v), want (200, 8100, true)", rec, off, ok)
	}
}

func TestPositionIndexIgnoresStaleFile(t *testing.T) {
	source := writeSource(t, "<Root><Record>a</Record></Root>")

	idx := NewPositionIndex(source, "", 100, nil)
	idx.Sample(100, 4_000)
	if err := idx.Save(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(source, []byte("<Root><Record>b</Record></Root>"), 0o644); err != nil {
		t.Fatal(err)
	}

	reloaded := NewPositionIndex(source, "", 100, nil)
	reloaded.Load()
	if reloaded.Len() != 0 {
		t.Error("stale position cache was trusted")
	}
}

func TestPositionIndexIgnoresCorruptFile(t *testing.T) {
	source := writeSource(t, "<Root/>")
	idx := NewPositionIndex(source, "", 100, nil)

	if err := os.WriteFile(source+CacheSuffix, []byte("not zstd"), 0o644); err != nil {
		t.Fatal(err)
	}
	idx.Load()
	if idx.Len() != 0 {
		t.Error("corrupt position cache was trusted")
	}
}

func TestPositionIndexDownsample(t *testing.T) {
	source := writeSource(t, "<Root/>")
	idx := NewPositionIndex(source, "", 100, nil)
	idx.maxEntries = 4

	for rec := uint64(100); rec <= 1000; rec += 100 {
		idx.Sample(rec, rec)
	}
	if err := idx.Save(); err != nil {
		t.Fatal(err)
	}
	if idx.Len() > 4 {
		t.Fatalf("Len = %d after downsample, cap 4", idx.Len())
	}
	// Surviving entries sit on the coarser stride.
	for rec := range idx.entries {
		if rec%idx.stride != 0 {
			t.Errorf("entry %d off stride %d survived", rec, idx.stride)
		}
	}
	// Lookups still work, just with a coarser answer.
	rec, _, ok := idx.NearestAtOrBelow(1000)
	if !ok || rec%idx.stride != 0 {
		t.Errorf("NearestAtOrBelow(1000) = (%d, ok=%v)", rec, ok)
	}
}

func TestPositionIndexClear(t *testing.T) {
	source := writeSource(t, "<Root/>")
	idx := NewPositionIndex(source, "", 100, nil)
	idx.Sample(100, 50)
	if err := idx.Save(); err != nil {
		t.Fatal(err)
	}
	if err := idx.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := os.Stat(source + CacheSuffix); !os.IsNotExist(err) {
		t.Error("cache file still present after Clear")
	}
	if idx.Len() != 0 {
		t.Error("entries still present after Clear")
	}
}
