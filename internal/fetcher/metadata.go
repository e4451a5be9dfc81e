package fetcher

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Metadata is the subset of yt-dlp's info JSON the library cares about.
type Metadata struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Artist      string  `json:"artist,omitempty"`
	Track       string  `json:"track,omitempty"`
	Album       string  `json:"album,omitempty"`
	Channel     string  `json:"channel,omitempty"`
	Uploader    string  `json:"uploader,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
	Width       int     `json:"width,omitempty"`
	Height      int     `json:"height,omitempty"`
	VideoCodec  string  `json:"vcodec,omitempty"`
	AudioCodec  string  `json:"acodec,omitempty"`
	Ext         string  `json:"ext,omitempty"`
	WebpageURL  string  `json:"webpage_url,omitempty"`
	Thumbnail   string  `json:"thumbnail,omitempty"`
	Description string  `json:"description,omitempty"`
	Year        int     `json:"year,omitempty"`
	Extractor   string  `json:"extractor,omitempty"`
}

// ArtistGuess picks the most specific credit available.
func (m *Metadata) ArtistGuess() string {
	for _, s := range []string{m.Artist, m.Channel, m.Uploader} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// TitleGuess prefers the track name over the upload title.
func (m *Metadata) TitleGuess() string {
	if t := strings.TrimSpace(m.Track); t != "" {
		return t
	}
	return strings.TrimSpace(m.Title)
}

type infoJSON struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Artist       string   `json:"artist"`
	Artists      []string `json:"artists"`
	Creator      string   `json:"creator"`
	Track        string   `json:"track"`
	Album        string   `json:"album"`
	Channel      string   `json:"channel"`
	Uploader     string   `json:"uploader"`
	Duration     float64  `json:"duration"`
	Width        int      `json:"width"`
	Height       int      `json:"height"`
	VCodec       string   `json:"vcodec"`
	ACodec       string   `json:"acodec"`
	Ext          string   `json:"ext"`
	WebpageURL   string   `json:"webpage_url"`
	URL          string   `json:"url"`
	Thumbnail    string   `json:"thumbnail"`
	Thumbnails   []struct {
		URL string `json:"url"`
	} `json:"thumbnails"`
	Description  string `json:"description"`
	UploadDate   string `json:"upload_date"`
	ReleaseYear  int    `json:"release_year"`
	ExtractorKey string `json:"extractor_key"`
}

func parseInfo(data []byte) (*Metadata, error) {
	var info infoJSON
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse yt-dlp json: %w", err)
	}
	if info.ID == "" && info.Title == "" {
		return nil, fmt.Errorf("yt-dlp returned no id or title")
	}

	artist := info.Artist
	if artist == "" && len(info.Artists) > 0 {
		artist = strings.Join(info.Artists, ", ")
	}
	if artist == "" {
		artist = info.Creator
	}
	thumb := info.Thumbnail
	if thumb == "" && len(info.Thumbnails) > 0 {
		thumb = info.Thumbnails[len(info.Thumbnails)-1].URL
	}
	page := info.WebpageURL
	if page == "" {
		page = info.URL
	}
	year := info.ReleaseYear
	if year == 0 && len(info.UploadDate) >= 4 {
		year, _ = strconv.Atoi(info.UploadDate[:4])
	}

	return &Metadata{
		ID:          info.ID,
		Title:       info.Title,
		Artist:      artist,
		Track:       info.Track,
		Album:       info.Album,
		Channel:     info.Channel,
		Uploader:    info.Uploader,
		Duration:    info.Duration,
		Width:       info.Width,
		Height:      info.Height,
		VideoCodec:  noneToEmpty(info.VCodec),
		AudioCodec:  noneToEmpty(info.ACodec),
		Ext:         info.Ext,
		WebpageURL:  page,
		Thumbnail:   thumb,
		Description: info.Description,
		Year:        year,
		Extractor:   strings.ToLower(info.ExtractorKey),
	}, nil
}

// SearchHit is one entry of a ytsearch listing.
type SearchHit struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Channel     string  `json:"channel,omitempty"`
	URL         string  `json:"url"`
	Duration    float64 `json:"duration,omitempty"`
	Thumbnail   string  `json:"thumbnail,omitempty"`
	Description string  `json:"description,omitempty"`
}

func parseSearchHit(line []byte) (SearchHit, bool) {
	var info infoJSON
	if err := json.Unmarshal(line, &info); err != nil || info.ID == "" {
		return SearchHit{}, false
	}
	channel := info.Channel
	if channel == "" {
		channel = info.Uploader
	}
	link := info.WebpageURL
	if link == "" || !strings.HasPrefix(link, "http") {
		link = info.URL
	}
	if link == "" || !strings.HasPrefix(link, "http") {
		link = "https://www.youtube.com/watch?v=" + info.ID
	}
	thumb := info.Thumbnail
	if thumb == "" && len(info.Thumbnails) > 0 {
		thumb = info.Thumbnails[len(info.Thumbnails)-1].URL
	}
	return SearchHit{
		ID:          info.ID,
		Title:       info.Title,
		Channel:     channel,
		URL:         link,
		Duration:    info.Duration,
		Thumbnail:   thumb,
		Description: info.Description,
	}, true
}

// VideoIDFromURL extracts the platform id from the common YouTube URL shapes.
func VideoIDFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	host = strings.TrimPrefix(host, "m.")
	switch host {
	case "youtu.be":
		return strings.Trim(u.Path, "/")
	case "youtube.com", "music.youtube.com":
		if v := u.Query().Get("v"); v != "" {
			return v
		}
		for _, prefix := range []string{"/embed/", "/shorts/", "/v/"} {
			if id, ok := strings.CutPrefix(u.Path, prefix); ok {
				return strings.Trim(id, "/")
			}
		}
	}
	return ""
}

func noneToEmpty(s string) string {
	if s == "none" {
		return ""
	}
	return s
}
