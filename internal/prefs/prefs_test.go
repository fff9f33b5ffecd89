package prefs

import (
	"testing"

	"github.com/spf13/afero"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	s := NewStore(afero.NewMemMapFs(), "/cfg/trulychat/prefs.json")

	p, err := s.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "" {
		t.Errorf("expected empty name, got %q", p.Name)
	}
	if p.Theme != ThemeSystem {
		t.Errorf("expected theme %q, got %q", ThemeSystem, p.Theme)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := NewStore(afero.NewMemMapFs(), "/cfg/trulychat/prefs.json")

	if err := s.Save(Prefs{Name: "Ava", Theme: ThemeDark}); err != nil {
		t.Fatalf("save: %v", err)
	}

	p, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Name != "Ava" || p.Theme != ThemeDark {
		t.Errorf("got %+v, want name=Ava theme=dark", p)
	}
}

func TestSaveRejectsUnknownTheme(t *testing.T) {
	s := NewStore(afero.NewMemMapFs(), "/cfg/prefs.json")

	if err := s.Save(Prefs{Theme: "solarized"}); err == nil {
		t.Fatal("expected error for unknown theme")
	}
}

func TestLoadResetsUnknownStoredTheme(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/cfg/prefs.json", []byte(`{"name":"Bo","theme":"neon"}`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	p, err := NewStore(fs, "/cfg/prefs.json").Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Theme != ThemeSystem {
		t.Errorf("expected theme reset to %q, got %q", ThemeSystem, p.Theme)
	}
	if p.Name != "Bo" {
		t.Errorf("expected name preserved, got %q", p.Name)
	}
}
