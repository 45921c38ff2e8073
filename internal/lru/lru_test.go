package lru

import "testing"

func TestOrderedSetGetBump(t *testing.T) {
	t.Parallel()

	o := New[string, int]()
	o.Set("a", 1)
	o.Set("b", 2)
	o.Set("c", 3)

	if got := o.Keys(); len(got) != 3 || got[0] != "c" || got[2] != "a" {
		t.Fatalf("Keys() = %v, want [c b a]", got)
	}

	if _, ok := o.GetAndBump("a"); !ok {
		t.Fatal("GetAndBump(a) ok = false, want true")
	}
	if got := o.Keys(); got[0] != "a" {
		t.Fatalf("after bump Keys()[0] = %v, want a", got[0])
	}

	key, val, ok := o.Oldest()
	if !ok || key != "b" || val != 2 {
		t.Fatalf("Oldest() = %v, %v, %v, want b, 2, true", key, val, ok)
	}
}

func TestOrderedDelete(t *testing.T) {
	t.Parallel()

	o := New[string, int]()
	o.Set("a", 1)
	o.Set("b", 2)

	if !o.Delete("a") {
		t.Fatal("Delete(a) = false, want true")
	}
	if o.Delete("a") {
		t.Fatal("second Delete(a) = true, want false")
	}
	if o.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", o.Len())
	}
	if _, ok := o.Get("a"); ok {
		t.Fatal("Get(a) ok = true after delete, want false")
	}
}

func TestOrderedSetExistingUpdatesValueAndBumps(t *testing.T) {
	t.Parallel()

	o := New[string, int]()
	o.Set("a", 1)
	o.Set("b", 2)
	o.Set("a", 99)

	v, ok := o.Get("a")
	if !ok || v != 99 {
		t.Fatalf("Get(a) = %v, %v, want 99, true", v, ok)
	}
	if got := o.Keys(); got[0] != "a" {
		t.Fatalf("Keys()[0] = %v, want a", got[0])
	}
}
