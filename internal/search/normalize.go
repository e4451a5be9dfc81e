package search

import (
	"math"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Letters that do not decompose into base + combining mark under NFD.
var foldLetters = strings.NewReplacer(
	"ß", "ss", "æ", "ae", "œ", "oe", "ø", "o", "đ", "d", "ł", "l", "þ", "th",
)

// Key reduces s to a comparison key: lowercase, diacritics folded,
// punctuation replaced by spaces, whitespace collapsed.
func Key(s string) string {
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}
	folded = foldLetters.Replace(folded)

	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

// Target is what a candidate is scored against.
type Target struct {
	Artist   string
	Title    string
	FreeText string
}

const (
	baseScore       = 0.2
	exactFieldBonus = 0.45
	partialBonus    = 0.2
	freeTextBonus   = 0.1
	heuristicMalus  = 0.05
	minConfidence   = 0.1
	maxConfidence   = 1.0
)

// Score rates how well a candidate artist/title fits target. heuristic marks
// candidates that only come from the best-effort title search.
// The result is always within [0.1, 1.0].
func Score(artist, title string, target Target, heuristic bool) float64 {
	s := baseScore
	ca, ct := Key(artist), Key(title)
	s += fieldScore(ca, Key(target.Artist))
	s += fieldScore(ct, Key(target.Title))

	if q := Key(target.FreeText); q != "" {
		if ct != "" && strings.Contains(ct, q) {
			s += freeTextBonus
		}
		if ca != "" && strings.Contains(ca, q) {
			s += freeTextBonus
		}
	}
	if heuristic {
		s -= heuristicMalus
	}
	return clamp(s)
}

func fieldScore(candidate, want string) float64 {
	if candidate == "" || want == "" {
		return 0
	}
	if candidate == want {
		return exactFieldBonus
	}
	if strings.Contains(candidate, want) || strings.Contains(want, candidate) {
		return partialBonus
	}
	return 0
}

func clamp(s float64) float64 {
	if math.IsNaN(s) || s < minConfidence {
		return minConfidence
	}
	if s > maxConfidence {
		return maxConfidence
	}
	return math.Round(s*1000) / 1000
}

var (
	qualifierRe = regexp.MustCompile(`(?i)\b(official\s+music\s+video|official\s+lyric\s+video|official\s+video|official\s+audio|official\s+visualizer|lyric\s+video|music\s+video|lyrics|remastered|hd|hq|4k)\b`)
	bracketRe   = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]|\{[^}]*\}|【[^】]*】`)
	featuringRe = regexp.MustCompile(`(?i)\s+(ft\.?|feat\.?|featuring)\s+.*$`)
	spacesRe    = regexp.MustCompile(`\s+`)
)

var titleSeparators = []string{" - ", " – ", " — ", " | "}

// ParseDisplayTitle splits a free-form video title such as
// "Artist - Song (Official Video)" into artist and title. Without a
// separator the artist is empty and the cleaned string is the title.
func ParseDisplayTitle(s string) (artist, title string) {
	cleaned := qualifierRe.ReplaceAllString(s, " ")
	cleaned = bracketRe.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(spacesRe.ReplaceAllString(cleaned, " "))

	cut, sepLen := -1, 0
	for _, sep := range titleSeparators {
		if i := strings.Index(cleaned, sep); i >= 0 && (cut < 0 || i < cut) {
			cut, sepLen = i, len(sep)
		}
	}
	if cut < 0 {
		return "", trimSeparators(cleaned)
	}
	return trimSeparators(cleaned[:cut]), trimSeparators(cleaned[cut+sepLen:])
}

func trimSeparators(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "-–—|:~"))
}

// matchKey is the cross-provider identity of a record: artist and title
// without featured-artist credits.
func matchKey(artist, title string) string {
	artist = featuringRe.ReplaceAllString(artist, "")
	title = featuringRe.ReplaceAllString(title, "")
	return Key(artist + " " + title)
}
