package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const userAgent = "VideoJockey/1.0 (+https://github.com/JustinTDCT/VideoJockey)"

var ErrNotConfigured = errors.New("imvdb: API key not configured")

// Video is the provider-neutral shape of a music video record.
type Video struct {
	Source          string   `json:"source"`
	ExternalID      string   `json:"external_id"`
	Title           string   `json:"title"`
	Artist          string   `json:"artist"`
	FeaturedArtists []string `json:"featured_artists,omitempty"`
	Year            int      `json:"year,omitempty"`
	Directors       []string `json:"directors,omitempty"`
	Description     string   `json:"description,omitempty"`
	ImageURL        string   `json:"image_url,omitempty"`
	PageURL         string   `json:"page_url,omitempty"`
	YouTubeIDs      []string `json:"youtube_ids,omitempty"`
	Detailed        bool     `json:"detailed"`
}

// DownloadURL returns a watch URL for the primary known source.
func (v *Video) DownloadURL() string {
	if len(v.YouTubeIDs) == 0 {
		return ""
	}
	return "https://www.youtube.com/watch?v=" + v.YouTubeIDs[0]
}

type IMVDbClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewIMVDbClient builds a client paced at perSecond requests per second
// (burst 1). A zero or negative rate disables pacing.
func NewIMVDbClient(apiKey, baseURL string, perSecond float64) *IMVDbClient {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &IMVDbClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (c *IMVDbClient) Name() string { return "imvdb" }

func (c *IMVDbClient) Configured() bool { return c != nil && c.apiKey != "" }

type imvdbArtist struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type imvdbVideo struct {
	ID              json.Number   `json:"id"`
	SongTitle       string        `json:"song_title"`
	URL             string        `json:"url"`
	Year            json.Number   `json:"year"`
	Artists         []imvdbArtist `json:"artists"`
	FeaturedArtists []imvdbArtist `json:"featured_artists"`
	Image           struct {
		O string `json:"o"`
		L string `json:"l"`
		B string `json:"b"`
	} `json:"image"`
	Description string `json:"description"`
	Directors   []struct {
		EntityName string `json:"entity_name"`
	} `json:"directors"`
	Sources []struct {
		Source     string `json:"source"`
		SourceData string `json:"source_data"`
		IsPrimary  bool   `json:"is_primary"`
	} `json:"sources"`
}

type imvdbSearchResponse struct {
	TotalResults int          `json:"total_results"`
	Results      []imvdbVideo `json:"results"`
}

// Search returns up to limit summary records for query.
func (c *IMVDbClient) Search(ctx context.Context, query string, limit int) ([]*Video, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if limit <= 0 {
		limit = 10
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("per_page", strconv.Itoa(limit))

	var resp imvdbSearchResponse
	if err := c.get(ctx, "/search/videos", params, &resp); err != nil {
		return nil, err
	}

	out := make([]*Video, 0, len(resp.Results))
	for i := range resp.Results {
		if len(out) == limit {
			break
		}
		out = append(out, resp.Results[i].toVideo(false))
	}
	return out, nil
}

// GetDetails fetches one record with credits and sources.
func (c *IMVDbClient) GetDetails(ctx context.Context, id string) (*Video, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	params := url.Values{}
	params.Set("include", "sources,credits,featured")

	var v imvdbVideo
	if err := c.get(ctx, "/video/"+url.PathEscape(id), params, &v); err != nil {
		return nil, err
	}
	return v.toVideo(true), nil
}

func (c *IMVDbClient) get(ctx context.Context, path string, params url.Values, dst interface{}) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var resp *http.Response
	for attempt := 0; attempt < 3; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("IMVDB-APP-KEY", c.apiKey)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)

		resp, err = c.client.Do(req)
		if err != nil {
			return fmt.Errorf("imvdb request: %w", err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			break
		}
		resp.Body.Close()
		wait := retryAfter(resp.Header.Get("Retry-After"), time.Duration(1<<uint(attempt))*time.Second)
		log.Printf("[imvdb] rate limited, retrying in %s", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("imvdb %s: HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("parse imvdb response: %w", err)
	}
	return nil
}

func (v *imvdbVideo) toVideo(detailed bool) *Video {
	out := &Video{
		Source:      "imvdb",
		ExternalID:  v.ID.String(),
		Title:       strings.TrimSpace(v.SongTitle),
		PageURL:     v.URL,
		Description: strings.TrimSpace(v.Description),
		Detailed:    detailed,
	}
	if y, err := v.Year.Int64(); err == nil {
		out.Year = int(y)
	}

	var names []string
	for _, a := range v.Artists {
		if n := strings.TrimSpace(a.Name); n != "" {
			names = append(names, n)
		}
	}
	out.Artist = strings.Join(names, ", ")
	for _, a := range v.FeaturedArtists {
		if n := strings.TrimSpace(a.Name); n != "" {
			out.FeaturedArtists = append(out.FeaturedArtists, n)
		}
	}
	for _, d := range v.Directors {
		if n := strings.TrimSpace(d.EntityName); n != "" {
			out.Directors = append(out.Directors, n)
		}
	}

	switch {
	case v.Image.O != "":
		out.ImageURL = v.Image.O
	case v.Image.L != "":
		out.ImageURL = v.Image.L
	default:
		out.ImageURL = v.Image.B
	}

	// Primary source first.
	for _, primaryPass := range []bool{true, false} {
		for _, s := range v.Sources {
			if s.Source != "youtube" || s.SourceData == "" || s.IsPrimary != primaryPass {
				continue
			}
			out.YouTubeIDs = append(out.YouTubeIDs, s.SourceData)
		}
	}
	return out
}

func retryAfter(header string, fallback time.Duration) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs >= 0 && secs <= 60 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
