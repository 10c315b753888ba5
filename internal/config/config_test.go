package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg == nil {
		t.Fatal("Default() returned nil")
	}
	if cfg.TargetLang != "pt-BR" {
		t.Errorf("expected TargetLang 'pt-BR', got %q", cfg.TargetLang)
	}
	if cfg.MaxCharsPerBatch != 4000 {
		t.Errorf("expected MaxCharsPerBatch 4000, got %d", cfg.MaxCharsPerBatch)
	}
	if cfg.MaxEntriesPerBatch != 50 {
		t.Errorf("expected MaxEntriesPerBatch 50, got %d", cfg.MaxEntriesPerBatch)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("expected MaxRetries 3, got %d", cfg.MaxRetries)
	}
	if cfg.EnableFreeFallback {
		t.Error("expected EnableFreeFallback false by default")
	}
	if cfg.ActiveProfile != "anime" {
		t.Errorf("expected ActiveProfile 'anime', got %q", cfg.ActiveProfile)
	}
}

func TestGetFactoryProfiles(t *testing.T) {
	profiles := GetFactoryProfiles()
	expected := []string{"anime", "movie", "documentary"}

	for _, name := range expected {
		profile, ok := profiles[name]
		if !ok {
			t.Errorf("expected factory profile %q to exist", name)
			continue
		}
		if !profile.IsFactory {
			t.Errorf("profile %q should be marked as factory", name)
		}
		if !profile.IsLocked {
			t.Errorf("profile %q should be marked as locked", name)
		}
		if profile.SystemPrompt == "" {
			t.Errorf("profile %q should have a system prompt", name)
		}
	}

	if len(profiles) != len(expected) {
		t.Errorf("expected %d factory profiles, got %d", len(expected), len(profiles))
	}
}

func TestFactoryProfilesCarryGlossaryPlaceholder(t *testing.T) {
	for name, profile := range GetFactoryProfiles() {
		if !contains(profile.SystemPrompt, "{{glossary}}") {
			t.Errorf("profile %q should carry the {{glossary}} placeholder", name)
		}
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func TestExists(t *testing.T) {
	originalPath := configPath
	configPath = "nonexistent_config_test.json"
	defer func() { configPath = originalPath }()

	if Exists() {
		t.Error("Exists() should return false for non-existent file")
	}

	tmpDir := t.TempDir()
	tmpConfig := filepath.Join(tmpDir, "duasub.json")
	configPath = tmpConfig
	if err := os.WriteFile(tmpConfig, []byte(`{}`), 0644); err != nil {
		t.Fatal(err)
	}
	if !Exists() {
		t.Error("Exists() should return true for existing file")
	}
}

func TestCloneProfile(t *testing.T) {
	cfg := Default()
	if err := cfg.CloneProfile("anime", "My Anime Profile"); err != nil {
		t.Fatalf("CloneProfile failed: %v", err)
	}

	cloned, ok := cfg.PromptProfiles["user_My Anime Profile"]
	if !ok {
		t.Fatal("cloned profile not found")
	}
	if cloned.IsFactory || cloned.IsLocked {
		t.Error("cloned profile should not be factory or locked")
	}
	if cloned.SystemPrompt != cfg.PromptProfiles["anime"].SystemPrompt {
		t.Error("cloned profile should have the same system prompt")
	}
}

func TestCloneProfileNonExistent(t *testing.T) {
	cfg := Default()
	if err := cfg.CloneProfile("nonexistent", "Test"); err == nil {
		t.Error("CloneProfile should fail for non-existent source profile")
	}
}

func TestDeleteProfile(t *testing.T) {
	cfg := Default()
	cfg.CloneProfile("movie", "Test Profile")

	if err := cfg.DeleteProfile("user_Test Profile"); err != nil {
		t.Fatalf("DeleteProfile failed: %v", err)
	}
	if _, ok := cfg.PromptProfiles["user_Test Profile"]; ok {
		t.Error("profile should have been deleted")
	}
}

func TestDeleteFactoryProfile(t *testing.T) {
	cfg := Default()
	if err := cfg.DeleteProfile("anime"); err == nil {
		t.Error("DeleteProfile should fail for factory profiles")
	}
}

func TestConfigSave(t *testing.T) {
	tmpDir := t.TempDir()
	tmpConfig := filepath.Join(tmpDir, "duasub.json")
	originalPath := configPath
	configPath = tmpConfig
	defer func() { configPath = originalPath }()

	cfg := Default()
	cfg.TargetLang = "es-ES"
	cfg.Model = "gpt-4o"
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	content, err := os.ReadFile(tmpConfig)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if len(content) == 0 {
		t.Error("config file should not be empty")
	}
}

func TestSnapshotUsesCustomPromptOverProfileWhenSet(t *testing.T) {
	cfg := Default()
	cfg.CustomPrompt = "translate literally"
	snap := cfg.Snapshot()
	if snap.SystemPrompt != "translate literally" {
		t.Errorf("expected custom prompt to win, got %q", snap.SystemPrompt)
	}
}

func TestSnapshotFallsBackToActiveProfilePrompt(t *testing.T) {
	cfg := Default()
	snap := cfg.Snapshot()
	if snap.SystemPrompt != cfg.PromptProfiles["anime"].SystemPrompt {
		t.Error("expected snapshot to fall back to the active profile's prompt")
	}
}

func TestSnapshotIsIndependentOfLaterMutation(t *testing.T) {
	cfg := Default()
	snap := cfg.Snapshot()
	cfg.MaxCharsPerBatch = 1
	cfg.BaseURL = "http://changed"
	if snap.MaxCharsPerBatch == 1 || snap.BaseURL == "http://changed" {
		t.Error("snapshot should not be affected by later mutation of the source Config")
	}
}
