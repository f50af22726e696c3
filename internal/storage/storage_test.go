package storage

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

// newTestStorage opens a storage in a per-test temp dir.
func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	t.Cleanup(func() { s.Close() })

	return s
}

func TestSetGetDelete(t *testing.T) {
	s := newTestStorage(t)

	key := []byte("o:key")

	if err := s.Set(key, []byte("value")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, []byte("value")) {
		t.Errorf("Get returned %q, want %q", got, "value")
	}

	ok, err := s.Has(key)
	if err != nil || !ok {
		t.Fatalf("Has = %v, %v; want true", ok, err)
	}

	if err := s.Delete(key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, err = s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("Get after Delete returned %q, want nil", got)
	}

	ok, _ = s.Has(key)
	if ok {
		t.Error("Has after Delete returned true")
	}
}

func TestApplyMixesSetAndDelete(t *testing.T) {
	s := newTestStorage(t)

	if err := s.Set([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	err := s.Apply([]Mutation{
		{Key: []byte("a")},
		{Key: []byte("b"), Value: []byte("2")},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if v, _ := s.Get([]byte("a")); v != nil {
		t.Errorf("a = %q, want deleted", v)
	}
	if v, _ := s.Get([]byte("b")); !bytes.Equal(v, []byte("2")) {
		t.Errorf("b = %q, want 2", v)
	}
}

func TestIteratePrefixBounds(t *testing.T) {
	s := newTestStorage(t)

	for _, k := range []string{"g:1", "o:1", "o:2", "o:3", "p:1"} {
		if err := s.Set([]byte(k), []byte(k)); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	var keys []string
	err := s.IteratePrefix([]byte("o:"), func(k, _ []byte) error {
		keys = append(keys, string(k))
		return nil
	})
	if err != nil {
		t.Fatalf("IteratePrefix failed: %v", err)
	}

	want := []string{"o:1", "o:2", "o:3"}
	if len(keys) != len(want) {
		t.Fatalf("got %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %s, want %s", i, keys[i], want[i])
		}
	}
}

func TestIterateAfterSkipsCursor(t *testing.T) {
	s := newTestStorage(t)

	for _, k := range []string{"o:1", "o:2", "o:3"} {
		if err := s.Set([]byte(k), nil); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	var keys []string
	err := s.IterateAfter([]byte("o:"), []byte("o:1"), func(k, _ []byte) error {
		keys = append(keys, string(k))
		return nil
	})
	if err != nil {
		t.Fatalf("IterateAfter failed: %v", err)
	}

	if len(keys) != 2 || keys[0] != "o:2" || keys[1] != "o:3" {
		t.Errorf("got %v, want [o:2 o:3]", keys)
	}
}

func TestIterateStopAndError(t *testing.T) {
	s := newTestStorage(t)

	for _, k := range []string{"o:1", "o:2", "o:3"} {
		if err := s.Set([]byte(k), []byte("x")); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	count := 0
	err := s.IteratePrefix([]byte("o:"), func(_, _ []byte) error {
		count++
		return ErrStop
	})
	if err != nil {
		t.Fatalf("ErrStop leaked: %v", err)
	}
	if count != 1 {
		t.Errorf("visited %d keys, want 1", count)
	}

	boom := errors.New("boom")
	err = s.IteratePrefix([]byte("o:"), func(_, _ []byte) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestPrefixUpperBound(t *testing.T) {
	tests := []struct {
		in   []byte
		want []byte
	}{
		{[]byte("o:"), []byte("o;")},
		{[]byte{0x01, 0xff}, []byte{0x02}},
		{[]byte{0xff, 0xff}, nil},
	}

	for _, tt := range tests {
		got := prefixUpperBound(tt.in)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("prefixUpperBound(%x) = %x, want %x", tt.in, got, tt.want)
		}
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")

	s, err := New(path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = New(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	v, err := s.Get([]byte("k"))
	if err != nil || !bytes.Equal(v, []byte("v")) {
		t.Errorf("Get = %q, %v; want v", v, err)
	}
}
