package pipeline

import (
	"math"
	"strings"
	"unicode"

	"github.com/postgen/postgen/internal/config"
	"github.com/postgen/postgen/pkg/models"
)

// Request bounds.
const (
	MaxPostCount    = 10
	MaxHashtagLimit = 20
	MaxTopicLength  = 2000
	MinTargetWords  = 20
	MaxTargetWords  = 2000

	maxStyleLength    = 200
	maxShortLength    = 100
	maxExamplesLength = 2000
)

// Validate turns a wire request into a GenerationRequest. Only an empty
// topic or a postCount that is not a positive number is rejected; every
// other out-of-range value is clamped and missing ones take defaults.
// Seeds are clamped to the 32-bit range every provider accepts.
func Validate(raw *models.GenerateRequest, defaults config.GenerationConfig) (models.GenerationRequest, error) {
	if raw == nil {
		return models.GenerationRequest{}, &ValidationError{Field: "body", Message: "Request body must be a JSON object."}
	}

	topic := bound(sanitize(raw.Topic), MaxTopicLength)
	if topic == "" {
		return models.GenerationRequest{}, &ValidationError{Field: "topic", Message: "Missing or invalid field: topic"}
	}

	postCount := defaults.PostCount
	if raw.PostCount.Set {
		if raw.PostCount.Invalid || raw.PostCount.Value <= 0 {
			return models.GenerationRequest{}, &ValidationError{
				Field:   "postCount",
				Message: "Missing or invalid field: postCount (positive number required)",
			}
		}
		postCount = raw.PostCount.Value
	}
	if postCount <= 0 {
		postCount = 3
	}

	req := models.GenerationRequest{
		Topic:        topic,
		PostCount:    clamp(postCount, 1, MaxPostCount),
		Tone:         str(raw.Tone, defaults.Tone, maxStyleLength),
		Audience:     str(raw.Audience, defaults.Audience, maxStyleLength),
		Language:     str(raw.Language, defaults.Language, maxShortLength),
		ReadingLevel: str(raw.ReadingLevel, defaults.ReadingLevel, maxShortLength),
		CTAStyle:     str(raw.CTAStyle, defaults.CTAStyle, maxShortLength),
		AllowEmojis:  flag(raw.AllowEmojis, true),
		AddHashtags:  flag(raw.AddHashtags, true),
		AddCTA:       flag(raw.AddCTA, true),
		IncludeLinks: flag(raw.IncludeLinks, false),
		HashtagLimit: clamp(defaults.HashtagLimit, 0, MaxHashtagLimit),
		Temperature:  clampf(defaults.Temperature, 0, 1),
	}
	// non-numeric values keep the default
	if raw.HashtagLimit.Set && !raw.HashtagLimit.Invalid {
		req.HashtagLimit = clamp(raw.HashtagLimit.Value, 0, MaxHashtagLimit)
	}
	if raw.Temperature.Set && !raw.Temperature.Invalid {
		req.Temperature = clampf(raw.Temperature.Value, 0, 1)
	}
	if raw.Seed != nil {
		seed := clamp64(*raw.Seed, math.MinInt32, math.MaxInt32)
		req.Seed = &seed
	}
	if raw.Examples != nil {
		req.Examples = bound(sanitize(*raw.Examples), maxExamplesLength)
	}
	req.TargetLength = targetLength(raw, defaults.TargetLength)
	return req, nil
}

func targetLength(raw *models.GenerateRequest, def string) models.TargetLength {
	tl := raw.TargetLength
	if tl == nil || tl.IsZero() {
		tl = raw.Length
	}
	if tl == nil || tl.IsZero() {
		return models.TargetLength{Preset: preset(def)}
	}
	if tl.Words > 0 {
		return models.TargetLength{Words: clamp(tl.Words, MinTargetWords, MaxTargetWords)}
	}
	return models.TargetLength{Preset: preset(tl.Preset)}
}

func preset(s string) string {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case models.LengthShort, models.LengthMedium, models.LengthLong:
		return s
	default:
		return models.LengthMedium
	}
}

// sanitize drops control characters (newlines become spaces) and trims.
func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

func bound(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}

func str(v *string, def string, n int) string {
	if v == nil {
		return def
	}
	if s := bound(sanitize(*v), n); s != "" {
		return s
	}
	return def
}

func flag(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp64(v, lo, hi int64) int64 {
	return min(max(v, lo), hi)
}

func clampf(v, lo, hi float64) float64 {
	if v < lo || v != v {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
