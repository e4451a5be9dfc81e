package fetcher

import (
	"regexp"
	"strconv"
	"strings"
)

// resultMarker prefixes the line printed by --print after the file has been
// moved into place: marker, provider id, tab, final path.
const resultMarker = "__VJ_RESULT__"

type LineKind int

const (
	LineIgnored LineKind = iota
	LineProgress
	LineDestination
	LineMerging
	LineExtractAudio
	LineAlreadyDownloaded
	LineRemux
	LineResult
)

// Line is one recognised line of downloader output.
type Line struct {
	Kind       LineKind
	Status     string
	Percent    float64
	Size       string
	Speed      string
	ETA        string
	Path       string
	ProviderID string
}

// Progress is what callers of Fetch see.
type Progress struct {
	Status  string  `json:"status"`
	Percent float64 `json:"percent"`
	Speed   string  `json:"speed,omitempty"`
	ETA     string  `json:"eta,omitempty"`
}

var (
	progressRe    = regexp.MustCompile(`^\[download\]\s+(\d+(?:\.\d+)?)%(?:\s+of\s+~?\s*(\S+))?(?:\s+in\s+\S+)?(?:\s+at\s+(Unknown B/s|\S+))?(?:\s+ETA\s+(Unknown|\S+))?`)
	destinationRe = regexp.MustCompile(`^\[download\] Destination: (.+)$`)
	alreadyRe     = regexp.MustCompile(`^\[download\] (.+) has already been downloaded`)
	mergeRe       = regexp.MustCompile(`^\[Merger\] Merging formats into "(.+)"$`)
	extractRe     = regexp.MustCompile(`^\[ExtractAudio\] Destination: (.+)$`)
	remuxRe       = regexp.MustCompile(`^\[VideoRemuxer\] .*Destination: (.+)$`)
)

// ParseLine maps one line of yt-dlp stdout onto a Line. The second return is
// false for anything the grammar does not know.
func ParseLine(raw string) (Line, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Line{}, false
	}

	if rest, ok := strings.CutPrefix(s, resultMarker); ok {
		id, path, found := strings.Cut(rest, "\t")
		if !found || strings.TrimSpace(path) == "" {
			return Line{}, false
		}
		return Line{Kind: LineResult, ProviderID: strings.TrimSpace(id), Path: strings.TrimSpace(path)}, true
	}

	if m := destinationRe.FindStringSubmatch(s); m != nil {
		return Line{Kind: LineDestination, Status: "Downloading", Percent: 0, Path: m[1]}, true
	}
	if m := alreadyRe.FindStringSubmatch(s); m != nil {
		return Line{Kind: LineAlreadyDownloaded, Status: "Downloaded", Percent: 100, Path: m[1]}, true
	}
	if m := progressRe.FindStringSubmatch(s); m != nil {
		pct, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return Line{}, false
		}
		return Line{
			Kind:    LineProgress,
			Status:  "Downloading",
			Percent: clampPercent(pct),
			Size:    m[2],
			Speed:   unknownToEmpty(m[3]),
			ETA:     unknownToEmpty(m[4]),
		}, true
	}
	if m := mergeRe.FindStringSubmatch(s); m != nil {
		return Line{Kind: LineMerging, Status: "Merging", Percent: 100, Path: m[1]}, true
	}
	if m := extractRe.FindStringSubmatch(s); m != nil {
		return Line{Kind: LineExtractAudio, Status: "Extracting audio", Percent: 95, Path: m[1]}, true
	}
	if m := remuxRe.FindStringSubmatch(s); m != nil {
		return Line{Kind: LineRemux, Path: m[1]}, true
	}
	return Line{}, false
}

// Progress converts a line into a progress event; ok is false for lines that
// only carry file information.
func (l Line) Progress() (Progress, bool) {
	switch l.Kind {
	case LineProgress, LineDestination, LineMerging, LineExtractAudio, LineAlreadyDownloaded:
		return Progress{Status: l.Status, Percent: l.Percent, Speed: l.Speed, ETA: l.ETA}, true
	}
	return Progress{}, false
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func unknownToEmpty(s string) string {
	if strings.HasPrefix(s, "Unknown") {
		return ""
	}
	return s
}
