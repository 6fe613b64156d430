package kv

import "testing"

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_PutGetDelete(t *testing.T) {
	s := openStore(t)
	key := MetadataKey("20261015-1", "owner")

	if _, ok, err := s.Get(key); err != nil || ok {
		t.Fatalf("expected missing key, ok=%v err=%v", ok, err)
	}
	if err := s.Put(key, []byte("lab-a")); err != nil {
		t.Fatalf("put: %v", err)
	}
	val, ok, err := s.Get(key)
	if err != nil || !ok || string(val) != "lab-a" {
		t.Fatalf("unexpected get: %q ok=%v err=%v", val, ok, err)
	}
	if err := s.Delete(key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get(key); ok {
		t.Fatalf("expected key deleted")
	}
}

func TestStore_ScanPrefix(t *testing.T) {
	s := openStore(t)
	_ = s.Put(MetadataKey("A", "owner"), []byte("1"))
	_ = s.Put(MetadataKey("A", "type"), []byte("2"))
	_ = s.Put(MetadataKey("B", "owner"), []byte("3"))

	var keys []string
	err := s.Scan("dataset/A/", func(key string, value []byte) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(keys) != 2 || keys[0] != "dataset/A/owner" || keys[1] != "dataset/A/type" {
		t.Fatalf("unexpected keys %v", keys)
	}
}
