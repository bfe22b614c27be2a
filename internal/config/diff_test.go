package config_test

import (
	"slices"
	"testing"

	"github.com/FlavioMarcoHaux/MiniMax/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:  config.ServerConfig{LogLevel: config.LogInfo},
		Mentors: []config.MentorConfig{{ID: "coach", Name: "Coach", Persona: "p"}},
	}
	d := config.Diff(cfg, cfg)
	if d.MentorsChanged || d.LogLevelChanged || d.VoiceChanged {
		t.Errorf("expected no changes, got %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("expected no restart sections, got %v", d.RestartRequired)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_Mentors(t *testing.T) {
	t.Parallel()
	old := &config.Config{Mentors: []config.MentorConfig{
		{ID: "coach", Name: "Coach", Persona: "a"},
		{ID: "gone", Name: "Gone"},
	}}
	new := &config.Config{Mentors: []config.MentorConfig{
		{ID: "coach", Name: "Coach", Persona: "b"},
		{ID: "sage", Name: "Sábio"},
	}}

	d := config.Diff(old, new)
	if !d.MentorsChanged {
		t.Fatal("expected MentorsChanged=true")
	}
	want := []config.MentorDiff{
		{ID: "coach", Edited: true},
		{ID: "gone", Removed: true},
		{ID: "sage", Added: true},
	}
	if !slices.Equal(d.MentorChanges, want) {
		t.Errorf("changes:\n got %+v\nwant %+v", d.MentorChanges, want)
	}
}

func TestDiff_MentorReorder(t *testing.T) {
	t.Parallel()
	a := config.MentorConfig{ID: "a", Name: "A"}
	b := config.MentorConfig{ID: "b", Name: "B"}
	d := config.Diff(&config.Config{Mentors: []config.MentorConfig{a, b}}, &config.Config{Mentors: []config.MentorConfig{b, a}})
	if !d.MentorsChanged {
		t.Error("reorder should count as a mentor change")
	}
	if len(d.MentorChanges) != 0 {
		t.Errorf("reorder should not list per-mentor changes, got %+v", d.MentorChanges)
	}
}

func TestDiff_VoiceChanged(t *testing.T) {
	t.Parallel()
	d := config.Diff(&config.Config{Voice: config.VoiceConfig{Voice: "Puck"}}, &config.Config{Voice: config.VoiceConfig{Voice: "Kore"}})
	if !d.VoiceChanged {
		t.Error("expected VoiceChanged=true")
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("voice name should not need a restart, got %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := &config.Config{}
	new := &config.Config{
		Server:    config.ServerConfig{ListenAddr: ":1"},
		Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "openai"}},
		Scheduler: config.SchedulerConfig{Store: config.StoreConfig{Backend: config.StoreSQLite}},
		Voice:     config.VoiceConfig{CaptureSampleRate: 8000},
	}
	d := config.Diff(old, new)
	want := []string{"server", "providers", "scheduler", "voice"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired: got %v, want %v", d.RestartRequired, want)
	}
}
