package variations

import (
	"strings"
	"unicode/utf8"

	"brandpost-backend/internal/catalog"
	"brandpost-backend/internal/llm"
)

// FromResult builds a Variation from a draft or refine response.
// Fields missing from the response are taken from base. ok is false when no caption came back.
func FromResult(res llm.Result, spec catalog.PlatformSpec, base Variation) (Variation, bool) {
	v := base.Clone()
	caption := res.String("caption")
	if caption == "" {
		return Variation{}, false
	}
	v.Caption = capCaption(caption, spec.MaxChars)
	if tags := res.Strings("hashtags"); len(tags) > 0 {
		v.Hashtags = normalizeHashtags(tags, spec.HashtagsMax)
	} else {
		v.Hashtags = normalizeHashtags(v.Hashtags, spec.HashtagsMax)
	}
	if s := res.String("tone_label"); s != "" {
		v.ToneLabel = s
	}
	if s := res.String("overlay_text"); s != "" {
		v.OverlayText = s
	}
	if s := res.String("cta"); s != "" {
		v.CTA = s
	}
	if s := res.String("hook"); s != "" {
		v.Hook = s
	}
	if s := res.String("image_description"); s != "" {
		v.ImageDescription = s
	}
	return v, true
}

func normalizeHashtags(in []string, max int) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, tag := range in {
		tag = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(tag), "#"))
		tag = strings.ReplaceAll(tag, " ", "")
		key := strings.ToLower(tag)
		if tag == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tag)
	}
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// capCaption truncates to max runes, preferring a word boundary.
func capCaption(caption string, max int) string {
	if max <= 0 || utf8.RuneCountInString(caption) <= max {
		return caption
	}
	runes := []rune(caption)
	cut := string(runes[:max])
	if i := strings.LastIndexAny(cut, " \n"); i > max/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}
