package catalog

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// xmlMusicVideo is the <musicvideo> root element of a Kodi NFO.
type xmlMusicVideo struct {
	XMLName   xml.Name      `xml:"musicvideo"`
	Title     string        `xml:"title"`
	Artist    string        `xml:"artist"`
	Album     string        `xml:"album,omitempty"`
	Year      string        `xml:"year,omitempty"`
	Director  string        `xml:"director,omitempty"`
	Studio    string        `xml:"studio,omitempty"`
	Genre     string        `xml:"genre,omitempty"`
	Plot      string        `xml:"plot,omitempty"`
	Runtime   string        `xml:"runtime,omitempty"`
	Thumb     string        `xml:"thumb,omitempty"`
	UniqueIDs []xmlUniqueID `xml:"uniqueid"`
	Sources   *xmlSources   `xml:"sources"`
}

type xmlUniqueID struct {
	Type    string `xml:"type,attr"`
	Default string `xml:"default,attr,omitempty"`
	Value   string `xml:",chardata"`
}

type xmlSources struct {
	URLs []SourceURL `xml:"url"`
}

// SourceURL is one entry of the download history kept in an NFO.
type SourceURL struct {
	URL    string `xml:",chardata"`
	TS     string `xml:"ts,attr,omitempty"`
	Failed bool   `xml:"failed,attr,omitempty"`
}

// NFOPath returns the sidecar path for a media file: same name, .nfo
// extension.
func NFOPath(mediaPath string) string {
	return strings.TrimSuffix(mediaPath, filepath.Ext(mediaPath)) + ".nfo"
}

// WriteNFO writes a Kodi musicvideo NFO for v at path. Source URLs already
// recorded in an existing file are kept; v.SourceURL is appended with
// timestamp at unless it is already listed as a successful source.
func WriteNFO(path string, v *Video, at time.Time) error {
	sources, err := ReadSources(path)
	if err != nil {
		log.Printf("[catalog] %s: discarding unreadable source history: %v", path, err)
		sources = nil
	}
	if v.SourceURL != "" && !hasSuccessful(sources, v.SourceURL) {
		sources = append(sources, SourceURL{URL: v.SourceURL, TS: at.UTC().Format(time.RFC3339)})
	}

	mv := xmlMusicVideo{
		Title:    v.Title,
		Artist:   v.Artist,
		Album:    v.Album,
		Director: v.Director,
		Studio:   v.Label,
		Genre:    v.Genre,
		Plot:     v.Description,
		Thumb:    v.ThumbnailURL,
	}
	if v.Year > 0 {
		mv.Year = strconv.Itoa(v.Year)
	}
	if v.DurationSeconds > 0 {
		mv.Runtime = strconv.Itoa((v.DurationSeconds + 59) / 60)
	}
	if v.ProviderID != "" {
		mv.UniqueIDs = append(mv.UniqueIDs, xmlUniqueID{Type: providerType(v.Provider), Default: "true", Value: v.ProviderID})
	}
	if v.IMVDbID != "" {
		mv.UniqueIDs = append(mv.UniqueIDs, xmlUniqueID{Type: "imvdb", Value: v.IMVDbID})
	}
	if len(sources) > 0 {
		mv.Sources = &xmlSources{URLs: sources}
	}
	return writeNFOFile(path, mv)
}

// LatestSource returns the most recent successful source URL, or "".
// Entries without a parseable timestamp rank oldest.
func LatestSource(sources []SourceURL) string {
	type dated struct {
		at  time.Time
		url string
		idx int
	}
	var ok []dated
	for i, s := range sources {
		if s.Failed || strings.TrimSpace(s.URL) == "" {
			continue
		}
		t, _ := time.Parse(time.RFC3339, s.TS)
		ok = append(ok, dated{at: t, url: strings.TrimSpace(s.URL), idx: i})
	}
	if len(ok) == 0 {
		return ""
	}
	sort.SliceStable(ok, func(i, j int) bool {
		if !ok[i].at.Equal(ok[j].at) {
			return ok[i].at.After(ok[j].at)
		}
		return ok[i].idx > ok[j].idx
	})
	return ok[0].url
}

// ReadSources returns the source history recorded in the NFO at path, or nil
// when the file does not exist.
func ReadSources(path string) ([]SourceURL, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var mv xmlMusicVideo
	if err := xml.Unmarshal(data, &mv); err != nil {
		return nil, fmt.Errorf("parse NFO: %w", err)
	}
	if mv.Sources == nil {
		return nil, nil
	}
	return mv.Sources.URLs, nil
}

func hasSuccessful(sources []SourceURL, url string) bool {
	for _, s := range sources {
		if !s.Failed && strings.TrimSpace(s.URL) == url {
			return true
		}
	}
	return false
}

func providerType(provider string) string {
	if provider == "" {
		return "source"
	}
	return strings.ToLower(provider)
}

func writeNFOFile(path string, v interface{}) error {
	data, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal NFO: %w", err)
	}
	output := append([]byte(xml.Header), data...)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create NFO directory: %w", err)
	}
	if err := os.WriteFile(path, output, 0644); err != nil {
		return fmt.Errorf("write NFO file: %w", err)
	}
	log.Printf("[catalog] wrote %s", path)
	return nil
}
