package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// MentorsChanged is true if any mentor was added, removed or edited.
	MentorsChanged bool
	MentorChanges  []MentorDiff

	// VoiceChanged is true if the mentor call voice changed. It applies to
	// the next call.
	VoiceChanged bool

	// RestartRequired lists changed sections that only take effect after a
	// restart.
	RestartRequired []string
}

// MentorDiff describes what changed for one mentor ID.
type MentorDiff struct {
	ID      string
	Added   bool
	Removed bool
	Edited  bool
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Voice.Voice != new.Voice.Voice {
		d.VoiceChanged = true
	}

	oldM := make(map[string]MentorConfig, len(old.Mentors))
	for _, m := range old.Mentors {
		oldM[m.ID] = m
	}
	newM := make(map[string]MentorConfig, len(new.Mentors))
	for _, m := range new.Mentors {
		newM[m.ID] = m
	}
	for _, m := range old.Mentors {
		n, ok := newM[m.ID]
		switch {
		case !ok:
			d.MentorChanges = append(d.MentorChanges, MentorDiff{ID: m.ID, Removed: true})
		case n != m:
			d.MentorChanges = append(d.MentorChanges, MentorDiff{ID: m.ID, Edited: true})
		}
	}
	for _, m := range new.Mentors {
		if _, ok := oldM[m.ID]; !ok {
			d.MentorChanges = append(d.MentorChanges, MentorDiff{ID: m.ID, Added: true})
		}
	}
	// Reordering alone changes the listing order.
	d.MentorsChanged = len(d.MentorChanges) > 0 || !slices.EqualFunc(old.Mentors, new.Mentors,
		func(a, b MentorConfig) bool { return a.ID == b.ID })

	if old.Server.ListenAddr != new.Server.ListenAddr || !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Scheduler != new.Scheduler {
		d.RestartRequired = append(d.RestartRequired, "scheduler")
	}
	if old.Voice.CaptureSampleRate != new.Voice.CaptureSampleRate ||
		old.Voice.PlaybackSampleRate != new.Voice.PlaybackSampleRate {
		d.RestartRequired = append(d.RestartRequired, "voice")
	}
	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.LLM, b.LLM) && entryEqual(a.S2S, b.S2S) &&
		slices.EqualFunc(a.LLMFallbacks, b.LLMFallbacks, entryEqual)
}

// entryEqual ignores Options, which may hold uncomparable values.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
