package config

import (
	"maps"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SpeakerChanges lists languages whose active speaker changed. A removed
	// language maps to "".
	SpeakerChanges map[string]string

	// RestartRequired is true when a field outside the hot-reloadable set
	// changed.
	RestartRequired bool
}

// Empty reports whether the diff carries nothing to apply.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && len(d.SpeakerChanges) == 0 && !d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	for lang, speaker := range new.Voices.Active {
		if old.Voices.Active[lang] != speaker {
			d.addSpeaker(lang, speaker)
		}
	}
	for lang := range old.Voices.Active {
		if _, ok := new.Voices.Active[lang]; !ok {
			d.addSpeaker(lang, "")
		}
	}

	d.RestartRequired = restartFieldsDiffer(old, new)
	return d
}

func (d *ConfigDiff) addSpeaker(lang, speaker string) {
	if d.SpeakerChanges == nil {
		d.SpeakerChanges = make(map[string]string)
	}
	d.SpeakerChanges[lang] = speaker
}

// restartFieldsDiffer compares the settings that are only read at startup.
func restartFieldsDiffer(old, new *Config) bool {
	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Pipeline.SourceLanguage != new.Pipeline.SourceLanguage ||
		old.Audio.Name != new.Audio.Name ||
		old.Recognizer.Name != new.Recognizer.Name ||
		old.Synthesis.Clone.Name != new.Synthesis.Clone.Name ||
		old.Publish.Name != new.Publish.Name ||
		old.Publish.Room != new.Publish.Room ||
		old.Voices.Repository != new.Voices.Repository {
		return true
	}
	if len(old.Translation.Providers) != len(new.Translation.Providers) {
		return true
	}
	for i := range old.Translation.Providers {
		if old.Translation.Providers[i].Name != new.Translation.Providers[i].Name {
			return true
		}
	}
	if !slices.EqualFunc(old.RecognizerFallbacks, new.RecognizerFallbacks, func(a, b ProviderEntry) bool {
		return a.Name == b.Name
	}) {
		return true
	}
	if !maps.Equal(old.Synthesis.DefaultVoices, new.Synthesis.DefaultVoices) {
		return true
	}
	return !slices.Equal(old.Pipeline.TargetLanguages, new.Pipeline.TargetLanguages)
}
