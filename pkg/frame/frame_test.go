package frame

import "testing"

func TestPool(t *testing.T) {
	p := NewPool(4)
	if p.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", p.Len())
	}
	for i := 0; i < p.Len(); i++ {
		f := p.Get(i)
		if f == nil || f.Index != i {
			t.Fatalf("Get(%d) = %+v", i, f)
		}
		if !p.Owns(f) {
			t.Errorf("Owns(frame %d) = false", i)
		}
	}
	if p.Get(-1) != nil || p.Get(4) != nil {
		t.Error("Get out of range should return nil")
	}
	if p.Owns(&Frame{Index: 0}) {
		t.Error("Owns should reject a frame from outside the pool")
	}
	if p.Owns(nil) {
		t.Error("Owns(nil) should be false")
	}
}

func TestPool_Clamp(t *testing.T) {
	if got := NewPool(0).Len(); got != 1 {
		t.Errorf("NewPool(0).Len() = %d, want 1", got)
	}
	if got := NewPool(MaxCapacity * 2).Len(); got != MaxCapacity {
		t.Errorf("NewPool(2*max).Len() = %d, want %d", got, MaxCapacity)
	}
}
