package fleet

import "testing"

func TestCapsWithDefaultsFillsZeroValues(t *testing.T) {
	got := Caps{}.WithDefaults()
	want := DefaultCaps()
	if got != want {
		t.Fatalf("WithDefaults() on zero Caps = %+v, want %+v", got, want)
	}
}

func TestCapsWithDefaultsPreservesSetFields(t *testing.T) {
	c := Caps{MaxSteps: 10, ConfidenceThreshold: 0.9}
	got := c.WithDefaults()
	if got.MaxSteps != 10 || got.ConfidenceThreshold != 0.9 {
		t.Fatalf("WithDefaults() should not overwrite explicitly set fields, got %+v", got)
	}
	d := DefaultCaps()
	if got.MaxScrolls != d.MaxScrolls || got.NavigationTimeout != d.NavigationTimeout {
		t.Fatalf("WithDefaults() should fill the remaining zero fields, got %+v", got)
	}
}

func TestDefaultResourceBudget(t *testing.T) {
	b := DefaultResourceBudget()
	if b.MaxCPUPercent <= 0 || b.MaxMemoryMB <= 0 || b.SampleInterval <= 0 || b.ViolationWindow <= 0 {
		t.Fatalf("DefaultResourceBudget() should have all positive fields, got %+v", b)
	}
}
