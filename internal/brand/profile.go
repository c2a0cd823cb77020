// Package brand builds the brand voice profile that steers every generation step.
package brand

import (
	"sort"
	"strings"
	"time"
)

// Tone is the dominant register of a brand.
type Tone string

const (
	ToneProfessional  Tone = "professional"
	ToneCasual        Tone = "casual"
	TonePlayful       Tone = "playful"
	ToneTechnical     Tone = "technical"
	ToneInspirational Tone = "inspirational"
	ToneFormal        Tone = "formal"
)

var knownTones = map[Tone]bool{
	ToneProfessional: true, ToneCasual: true, TonePlayful: true,
	ToneTechnical: true, ToneInspirational: true, ToneFormal: true,
}

// ParseTone normalizes a tone label. Unknown or compound labels fall back to professional,
// unless one of their parts is a known tone.
func ParseTone(raw string) Tone {
	s := strings.ToLower(strings.TrimSpace(raw))
	if knownTones[Tone(s)] {
		return Tone(s)
	}
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == ',' || r == ' ' || r == '|' }) {
		if knownTones[Tone(part)] {
			return Tone(part)
		}
	}
	return ToneProfessional
}

// Profile is an immutable brand voice summary. Re-analysis replaces it.
type Profile struct {
	VoiceDescriptors   []string  `json:"voice_descriptors"`
	Tone               Tone      `json:"tone"`
	VocabularySignals  []string  `json:"vocabulary_signals"`
	SourceExcerptCount int       `json:"source_excerpt_count"`
	EmojiUsage         string    `json:"emoji_usage,omitempty"`
	TypicalCTAs        []string  `json:"typical_ctas,omitempty"`
	KeyThemes          []string  `json:"key_themes,omitempty"`
	PrimaryColors      []string  `json:"primary_colors,omitempty"`
	TargetAudience     string    `json:"target_audience,omitempty"`
	Fallback           bool      `json:"fallback,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	out.VoiceDescriptors = append([]string(nil), p.VoiceDescriptors...)
	out.VocabularySignals = append([]string(nil), p.VocabularySignals...)
	out.TypicalCTAs = append([]string(nil), p.TypicalCTAs...)
	out.KeyThemes = append([]string(nil), p.KeyThemes...)
	out.PrimaryColors = append([]string(nil), p.PrimaryColors...)
	return &out
}

// Default is the documented profile used when analysis cannot reach the capability.
func Default(excerpts int, now time.Time) *Profile {
	return &Profile{
		VoiceDescriptors:   []string{"innovative", "reliable", "forward-thinking"},
		Tone:               ToneProfessional,
		VocabularySignals:  []string{"growth", "innovation", "technology"},
		SourceExcerptCount: excerpts,
		EmojiUsage:         "moderate",
		TypicalCTAs:        []string{"Learn more", "Get started", "Join us"},
		KeyThemes:          []string{"innovation", "technology", "growth"},
		PrimaryColors:      []string{"#1a73e8", "#34a853"},
		TargetAudience:     "tech-savvy professionals",
		Fallback:           true,
		CreatedAt:          now.UTC(),
	}
}

// Sources are the already-fetched brand materials.
type Sources struct {
	WebsiteText string   `json:"website_text"`
	Posts       []string `json:"posts"`
	Guidelines  string   `json:"guidelines"`
}

// Excerpts returns the non-empty source texts in a stable order.
func (s Sources) Excerpts() []string {
	var out []string
	if t := strings.TrimSpace(s.WebsiteText); t != "" {
		out = append(out, t)
	}
	for _, p := range s.Posts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if t := strings.TrimSpace(s.Guidelines); t != "" {
		out = append(out, t)
	}
	return out
}

// orderedUnique trims, drops blanks and keeps first occurrences (case-insensitive).
func orderedUnique(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

// signalSet lowercases, dedupes and sorts vocabulary signals.
func signalSet(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
