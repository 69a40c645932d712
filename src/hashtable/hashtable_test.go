package hashtable

import (
	"sync"
	"testing"

	"ustr"
)

func TestSetGetDel(t *testing.T) {
	ht := MkHash(4)

	if _, ok := ht.Get(1); ok {
		t.Fatalf("Get on empty table found a value")
	}

	if _, inserted := ht.Set(1, "one"); !inserted {
		t.Fatalf("Set of new key reported not inserted")
	}
	if v, ok := ht.Get(1); !ok || v != "one" {
		t.Fatalf("Get(1) = %v, %v, want \"one\", true", v, ok)
	}

	if _, inserted := ht.Set(1, "uno"); inserted {
		t.Fatalf("Set of existing key reported inserted")
	}
	if v, _ := ht.Get(1); v != "one" {
		t.Fatalf("Set of existing key overwrote value: got %v", v)
	}

	ht.Del(1)
	if _, ok := ht.Get(1); ok {
		t.Fatalf("Get after Del still found a value")
	}
}

func TestDelMissingPanics(t *testing.T) {
	ht := MkHash(4)
	defer func() {
		if recover() == nil {
			t.Fatalf("Del of missing key did not panic")
		}
	}()
	ht.Del(42)
}

func TestUstrKeys(t *testing.T) {
	ht := MkHash(8)
	ht.Set(ustr.Ustr("fsservice"), 3)
	v, ok := ht.Get(ustr.Ustr("fsservice"))
	if !ok || v != 3 {
		t.Fatalf("Get(ustr key) = %v, %v, want 3, true", v, ok)
	}
}

func TestElemsAndSize(t *testing.T) {
	ht := MkHash(4)
	want := map[int]string{1: "a", 2: "b", 3: "c"}
	for k, v := range want {
		ht.Set(k, v)
	}
	if ht.Size() != len(want) {
		t.Fatalf("Size() = %d, want %d", ht.Size(), len(want))
	}
	got := make(map[int]string)
	for _, p := range ht.Elems() {
		got[p.Key.(int)] = p.Value.(string)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("Elems missing or wrong value for key %d: got %q, want %q", k, got[k], v)
		}
	}
}

func TestConcurrentSetGet(t *testing.T) {
	ht := MkHash(16)
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			ht.Set(i, i*i)
		}()
	}
	wg.Wait()

	for i := 0; i < 64; i++ {
		v, ok := ht.Get(i)
		if !ok || v != i*i {
			t.Errorf("Get(%d) = %v, %v, want %d, true", i, v, ok, i*i)
		}
	}
}
