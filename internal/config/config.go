// Package config implements the Configuration View (spec §6): a
// viper-backed settings file plus an immutable Snapshot taken once per job
// submission, so a config reload never mutates an in-flight job.
//
// Grounded in the teacher's internal/config/config.go: the viper
// ReadInConfig/Unmarshal flow and the PromptProfile factory-template table
// (with its {{glossary}} placeholder) are kept; the field set is
// retargeted from bakasub's AI-provider/profile settings onto spec §6's
// scheduler/translator/media knobs.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// PromptProfile is a named translation prompt template. Factory profiles
// are immutable; CloneProfile produces an editable user copy.
type PromptProfile struct {
	Name         string  `json:"name" mapstructure:"name"`
	SystemPrompt string  `json:"system_prompt" mapstructure:"system_prompt"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature"`
	IsFactory    bool    `json:"is_factory" mapstructure:"is_factory"`
	IsLocked     bool    `json:"is_locked" mapstructure:"is_locked"`
}

// Config is the mutable, load/save-able configuration root. Callers must
// not hold onto a *Config across a job boundary — call Snapshot() instead
// and pass the value down to workers (spec §6: "a read-only immutable
// snapshot... captured once at job submission").
type Config struct {
	// Translator settings (spec §4.6 / §6)
	BaseURL             string `json:"base_url" mapstructure:"base_url"`
	APIKey               string `json:"api_key" mapstructure:"api_key"`
	Model                string `json:"model" mapstructure:"model"`
	CustomPrompt         string `json:"custom_prompt" mapstructure:"custom_prompt"`
	MaxCharsPerBatch     int    `json:"max_chars_per_batch" mapstructure:"max_chars_per_batch"`
	MaxEntriesPerBatch   int    `json:"max_entries_per_batch" mapstructure:"max_entries_per_batch"`
	MaxRetries           int    `json:"max_retries" mapstructure:"max_retries"`
	RetryBaseDelaySecs   int    `json:"retry_base_delay" mapstructure:"retry_base_delay"`
	RetryMaxDelaySecs    int    `json:"retry_max_delay" mapstructure:"retry_max_delay"`
	EnableFreeFallback   bool   `json:"enable_free_fallback" mapstructure:"enable_free_fallback"`
	FreeEndpoint         string `json:"free_endpoint" mapstructure:"free_endpoint"`
	FreeModel            string `json:"free_model" mapstructure:"free_model"`

	// Scheduler settings (spec §4.1)
	MaxProcesses int `json:"max_processes" mapstructure:"max_processes"`

	// Pipeline feature toggles (spec §4.2 Non-goals escape hatches)
	SkipBurn        bool `json:"skip_burn" mapstructure:"skip_burn"`
	SkipTranslation bool `json:"skip_translation" mapstructure:"skip_translation"`
	RemoveHI        bool `json:"remove_hi" mapstructure:"remove_hi"`

	// Languages
	SourceLang string `json:"source_lang" mapstructure:"source_lang"`
	TargetLang string `json:"target_lang" mapstructure:"target_lang"`

	// Paths
	BinPath  string `json:"bin_path" mapstructure:"bin_path"`
	CacheDir string `json:"cache_dir" mapstructure:"cache_dir"`

	// Prompt Profiles
	PromptProfiles map[string]PromptProfile `json:"prompt_profiles" mapstructure:"prompt_profiles"`
	ActiveProfile  string                   `json:"active_profile" mapstructure:"active_profile"`
}

// Snapshot is an immutable value copy of Config, safe to pass by value into
// a Pipeline Worker goroutine. A config reload that happens after a
// snapshot is taken never affects jobs already holding one.
type Snapshot struct {
	BaseURL            string
	APIKey             string
	Model              string
	SystemPrompt       string
	MaxCharsPerBatch   int
	MaxEntriesPerBatch int
	MaxRetries         int
	RetryBaseDelaySecs int
	RetryMaxDelaySecs  int
	EnableFreeFallback bool
	FreeEndpoint       string
	FreeModel          string
	MaxProcesses       int
	SkipBurn           bool
	SkipTranslation    bool
	RemoveHI           bool
	SourceLang         string
	TargetLang         string
	BinPath            string
	CacheDir           string
}

// Snapshot captures the active profile's prompt (with the {{glossary}}
// placeholder left intact for the Pipeline Worker to fill per-file) and every
// other field as an independent copy.
func (c *Config) Snapshot() Snapshot {
	prompt := c.CustomPrompt
	if profile, ok := c.PromptProfiles[c.ActiveProfile]; ok && prompt == "" {
		prompt = profile.SystemPrompt
	}
	return Snapshot{
		BaseURL:            c.BaseURL,
		APIKey:             c.APIKey,
		Model:              c.Model,
		SystemPrompt:       prompt,
		MaxCharsPerBatch:   c.MaxCharsPerBatch,
		MaxEntriesPerBatch: c.MaxEntriesPerBatch,
		MaxRetries:         c.MaxRetries,
		RetryBaseDelaySecs: c.RetryBaseDelaySecs,
		RetryMaxDelaySecs:  c.RetryMaxDelaySecs,
		EnableFreeFallback: c.EnableFreeFallback,
		FreeEndpoint:       c.FreeEndpoint,
		FreeModel:          c.FreeModel,
		MaxProcesses:       c.MaxProcesses,
		SkipBurn:           c.SkipBurn,
		SkipTranslation:    c.SkipTranslation,
		RemoveHI:           c.RemoveHI,
		SourceLang:         c.SourceLang,
		TargetLang:         c.TargetLang,
		BinPath:            c.BinPath,
		CacheDir:           c.CacheDir,
	}
}

var (
	configPath = "duasub.json"
	instance   *Config
)

// GetFactoryProfiles returns the built-in, immutable prompt profiles. Each
// carries the {{glossary}} placeholder the Pipeline Worker fills in per
// file from the NER-derived Volatile Glossary.
func GetFactoryProfiles() map[string]PromptProfile {
	return map[string]PromptProfile{
		"anime": {
			Name: "Anime (Factory Default)",
			SystemPrompt: `You are a professional subtitle translator specializing in Japanese animation. Translate the given lines, preserving honorifics (-san, -kun, -chan) and attack/technique names. Use the glossary terms: {{glossary}}. Return one translated line per input line, in the same order, joined by the exact separator you were given.`,
			Temperature: 0.7,
			IsFactory:   true,
			IsLocked:    true,
		},
		"movie": {
			Name: "Movie (Factory Default)",
			SystemPrompt: `You are a professional subtitle translator for feature films. Translate the given lines with cinematic pacing and natural dialogue. Glossary: {{glossary}}. Return one translated line per input line, in the same order, joined by the exact separator you were given.`,
			Temperature: 0.5,
			IsFactory:   true,
			IsLocked:    true,
		},
		"documentary": {
			Name: "Documentary (Factory Default)",
			SystemPrompt: `You are a professional subtitle translator for documentary and educational content. Prioritize accuracy and clarity over style. Glossary: {{glossary}}. Return one translated line per input line, in the same order, joined by the exact separator you were given.`,
			Temperature: 0.2,
			IsFactory:   true,
			IsLocked:    true,
		},
	}
}

// Default returns a Config with sensible defaults matching spec §6's
// documented defaults.
func Default() *Config {
	return &Config{
		BaseURL:            "https://openrouter.ai/api/v1",
		Model:              "google/gemini-flash-1.5",
		MaxCharsPerBatch:   4000,
		MaxEntriesPerBatch: 50,
		MaxRetries:         3,
		RetryBaseDelaySecs: 1,
		RetryMaxDelaySecs:  30,
		EnableFreeFallback: false,
		FreeEndpoint:       "http://localhost:11434",
		FreeModel:          "llama3",
		MaxProcesses:       0, // 0 means "derive from CPU count", see scheduler.ClampWorkerCount
		SkipBurn:           false,
		SkipTranslation:    false,
		RemoveHI:           true,
		SourceLang:         "en",
		TargetLang:         "pt-BR",
		BinPath:            "./bin",
		CacheDir:           "./cache",
		PromptProfiles:     GetFactoryProfiles(),
		ActiveProfile:      "anime",
	}
}

// Exists reports whether a config file is present at configPath.
func Exists() bool {
	_, err := os.Stat(configPath)
	return err == nil
}

// Load reads duasub.json via viper, falling back to Default() if absent.
func Load() (*Config, error) {
	if instance != nil {
		return instance, nil
	}

	viper.SetConfigName("duasub")
	viper.SetConfigType("json")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/duasub")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			instance = Default()
			return instance, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	factory := GetFactoryProfiles()
	if cfg.PromptProfiles == nil {
		cfg.PromptProfiles = make(map[string]PromptProfile)
	}
	for key, profile := range factory {
		cfg.PromptProfiles[key] = profile
	}

	instance = cfg
	return instance, nil
}

// Save writes the configuration to configPath via viper.
func (c *Config) Save() error {
	dir := filepath.Dir(configPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	viper.Set("base_url", c.BaseURL)
	viper.Set("api_key", c.APIKey)
	viper.Set("model", c.Model)
	viper.Set("custom_prompt", c.CustomPrompt)
	viper.Set("max_chars_per_batch", c.MaxCharsPerBatch)
	viper.Set("max_entries_per_batch", c.MaxEntriesPerBatch)
	viper.Set("max_retries", c.MaxRetries)
	viper.Set("retry_base_delay", c.RetryBaseDelaySecs)
	viper.Set("retry_max_delay", c.RetryMaxDelaySecs)
	viper.Set("enable_free_fallback", c.EnableFreeFallback)
	viper.Set("free_endpoint", c.FreeEndpoint)
	viper.Set("free_model", c.FreeModel)
	viper.Set("max_processes", c.MaxProcesses)
	viper.Set("skip_burn", c.SkipBurn)
	viper.Set("skip_translation", c.SkipTranslation)
	viper.Set("remove_hi", c.RemoveHI)
	viper.Set("source_lang", c.SourceLang)
	viper.Set("target_lang", c.TargetLang)
	viper.Set("bin_path", c.BinPath)
	viper.Set("cache_dir", c.CacheDir)
	viper.Set("prompt_profiles", c.PromptProfiles)
	viper.Set("active_profile", c.ActiveProfile)

	if err := viper.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// CloneProfile creates an editable user copy of an existing profile.
func (c *Config) CloneProfile(sourceKey, newName string) error {
	source, ok := c.PromptProfiles[sourceKey]
	if !ok {
		return fmt.Errorf("source profile not found: %s", sourceKey)
	}
	newProfile := source
	newProfile.Name = newName
	newProfile.IsFactory = false
	newProfile.IsLocked = false
	c.PromptProfiles[fmt.Sprintf("user_%s", newName)] = newProfile
	return nil
}

// DeleteProfile removes a user profile; factory profiles cannot be deleted.
func (c *Config) DeleteProfile(key string) error {
	profile, ok := c.PromptProfiles[key]
	if !ok {
		return fmt.Errorf("profile not found: %s", key)
	}
	if profile.IsFactory {
		return fmt.Errorf("cannot delete factory profile")
	}
	delete(c.PromptProfiles, key)
	return nil
}
