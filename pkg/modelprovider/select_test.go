package modelprovider

import "testing"

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.RegisterSafeDefault(SafeDefaultEntry())
	r.Register(NewEntry("gpt-fast", "openai", []Capability{CapText, CapCode}, 8192, 1.0))
	r.Register(NewEntry("claude-deep", "anthropic", []Capability{CapText, CapReasoning, CapLongContext}, 200000, 3.0))
	return r
}

func TestSelect_EndsInSafeDefault(t *testing.T) {
	r := newTestRegistry()
	chain, err := r.Select(CapText, nil)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(chain) == 0 {
		t.Fatal("expected a non-empty chain")
	}
	if chain[len(chain)-1].Name != "safe-default" {
		t.Errorf("last entry = %q, want safe-default", chain[len(chain)-1].Name)
	}
}

func TestSelect_FiltersByCapability(t *testing.T) {
	r := newTestRegistry()
	chain, err := r.Select(CapReasoning, nil)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	for _, e := range chain[:len(chain)-1] {
		if !e.HasCapability(CapReasoning) {
			t.Errorf("entry %q lacks required capability reasoning", e.Name)
		}
	}
}

func TestSelect_FiltersUnavailable(t *testing.T) {
	r := newTestRegistry()
	gptFast, _ := r.Get("gpt-fast")
	gptFast.SetAvailable(false)

	chain, err := r.Select(CapText, nil)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	for _, e := range chain {
		if e.Name == "gpt-fast" {
			t.Error("expected unavailable entry to be excluded from the chain")
		}
	}
}

func TestSelect_PreferenceOrdering(t *testing.T) {
	r := newTestRegistry()
	chain, err := r.Select(CapText, []string{"claude-deep", "gpt-fast"})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if chain[0].Name != "claude-deep" {
		t.Errorf("chain[0] = %q, want claude-deep (preferred first)", chain[0].Name)
	}
}

func TestSelect_NoSafeDefaultRegistered(t *testing.T) {
	r := NewRegistry()
	r.Register(NewEntry("gpt-fast", "openai", []Capability{CapText}, 8192, 1.0))
	if _, err := r.Select(CapText, nil); err == nil {
		t.Error("expected an error when no safe default is registered")
	}
}

func TestSelect_Deterministic(t *testing.T) {
	r := newTestRegistry()
	a, err := r.Select(CapText, nil)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	b, err := r.Select(CapText, nil)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(a) != len(b) {
		t.Fatalf("len(a) = %d, len(b) = %d, want equal", len(a), len(b))
	}
	for i := range a {
		if a[i].Name != b[i].Name {
			t.Errorf("chain[%d] = %q vs %q, want identical ordering across calls", i, a[i].Name, b[i].Name)
		}
	}
}
