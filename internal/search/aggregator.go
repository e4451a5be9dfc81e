package search

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/JustinTDCT/VideoJockey/internal/fetcher"
	"github.com/JustinTDCT/VideoJockey/internal/metadata"
	"github.com/JustinTDCT/VideoJockey/internal/metrics"
)

const (
	DefaultMaxResults = 10
	MaxResultsLimit   = 50
	detailLookups     = 5
	matchThreshold    = 0.5
)

type Source string

const (
	SourceIMVDb    Source = "imvdb"
	SourceYouTube  Source = "youtube"
	SourceCombined Source = "combined"
)

// VideoDatabase is the structured provider (search by text, detail by id).
type VideoDatabase interface {
	Search(ctx context.Context, query string, limit int) ([]*metadata.Video, error)
	GetDetails(ctx context.Context, id string) (*metadata.Video, error)
}

// TitleSearcher is the best-effort provider.
type TitleSearcher interface {
	SearchTitles(ctx context.Context, query string, max int) ([]fetcher.SearchHit, error)
}

type Query struct {
	FreeText       string `json:"q,omitempty"`
	Artist         string `json:"artist,omitempty"`
	Title          string `json:"title,omitempty"`
	MaxResults     int    `json:"max_results,omitempty"`
	IncludeIMVDb   bool   `json:"include_imvdb"`
	IncludeYouTube bool   `json:"include_youtube"`
}

// Item is one ranked search result.
type Item struct {
	Title       string             `json:"title"`
	Artist      string             `json:"artist"`
	Source      Source             `json:"source"`
	Confidence  float64            `json:"confidence"`
	Metadata    *metadata.Video    `json:"metadata,omitempty"`
	YouTube     *fetcher.SearchHit `json:"youtube,omitempty"`
	ArtworkURL  string             `json:"artwork_url,omitempty"`
	Description string             `json:"description,omitempty"`
	URL         string             `json:"url,omitempty"`
}

type Result struct {
	Items    []Item   `json:"items"`
	Warnings []string `json:"warnings"`
}

type Aggregator struct {
	imvdb   VideoDatabase
	youtube TitleSearcher
	metrics *metrics.Metrics
}

// NewAggregator wires the two providers. Either may be nil, in which case a
// search that asks for it gets a warning.
func NewAggregator(imvdb VideoDatabase, youtube TitleSearcher, m *metrics.Metrics) *Aggregator {
	return &Aggregator{imvdb: imvdb, youtube: youtube, metrics: m}
}

// candidate is a best-effort hit with its parsed artist/title.
type candidate struct {
	hit    fetcher.SearchHit
	artist string
	title  string
}

// Search queries the enabled providers, fuses the results and ranks them.
// Provider failures are reported as warnings; Search itself never fails.
func (a *Aggregator) Search(ctx context.Context, q Query) Result {
	res := Result{Items: []Item{}, Warnings: []string{}}

	q.FreeText = strings.TrimSpace(q.FreeText)
	q.Artist = strings.TrimSpace(q.Artist)
	q.Title = strings.TrimSpace(q.Title)
	if q.FreeText == "" && q.Artist == "" && q.Title == "" {
		res.Warnings = append(res.Warnings, "empty query: supply free text, artist or title")
		return res
	}
	switch {
	case q.MaxResults <= 0:
		q.MaxResults = DefaultMaxResults
	case q.MaxResults > MaxResultsLimit:
		q.MaxResults = MaxResultsLimit
	}

	text := q.FreeText
	if text == "" {
		text = strings.TrimSpace(q.Artist + " " + q.Title)
	}

	var (
		videos     []*metadata.Video
		hits       []fetcher.SearchHit
		imvdbWarn  []string
		youtubeErr error
	)
	var g errgroup.Group
	if q.IncludeIMVDb {
		g.Go(func() error {
			videos, imvdbWarn = a.searchIMVDb(ctx, text, q.MaxResults)
			return nil
		})
	}
	if q.IncludeYouTube {
		g.Go(func() error {
			if a.youtube == nil {
				youtubeErr = fmt.Errorf("provider not configured")
				return nil
			}
			hits, youtubeErr = a.youtube.SearchTitles(ctx, text, q.MaxResults)
			return nil
		})
	}
	_ = g.Wait()

	var warned []string
	if len(imvdbWarn) > 0 {
		res.Warnings = append(res.Warnings, imvdbWarn...)
		warned = append(warned, string(SourceIMVDb))
	}
	if youtubeErr != nil {
		res.Warnings = append(res.Warnings, "youtube: "+youtubeErr.Error())
		warned = append(warned, string(SourceYouTube))
	}
	for _, w := range res.Warnings {
		log.Printf("[search] %q: %s", text, w)
	}
	a.metrics.SearchServed(warned)

	if len(hits) > q.MaxResults {
		hits = hits[:q.MaxResults]
	}
	res.Items = Fuse(q, videos, hits)
	return res
}

// searchIMVDb returns summaries with the first few replaced by full detail
// records. Detail failures keep the summary and add a warning.
func (a *Aggregator) searchIMVDb(ctx context.Context, text string, limit int) ([]*metadata.Video, []string) {
	if a.imvdb == nil {
		return nil, []string{"imvdb: provider not configured"}
	}
	videos, err := a.imvdb.Search(ctx, text, limit)
	if err != nil {
		return nil, []string{"imvdb: " + err.Error()}
	}
	if len(videos) > limit {
		videos = videos[:limit]
	}

	n := min(detailLookups, len(videos))
	errs := make([]error, n)
	var g errgroup.Group
	g.SetLimit(3)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			detail, err := a.imvdb.GetDetails(ctx, videos[i].ExternalID)
			if err != nil {
				errs[i] = err
				return nil
			}
			videos[i] = detail
			return nil
		})
	}
	_ = g.Wait()

	var warnings []string
	for i, err := range errs {
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("imvdb: details for %s: %v", videos[i].ExternalID, err))
		}
	}
	return videos, warnings
}

// Fuse merges structured records with best-effort hits and ranks the result.
// The output depends only on its inputs.
func Fuse(q Query, videos []*metadata.Video, hits []fetcher.SearchHit) []Item {
	target := Target{Artist: q.Artist, Title: q.Title, FreeText: q.FreeText}

	pool := make([]candidate, 0, len(hits))
	for _, h := range hits {
		artist, title := ParseDisplayTitle(h.Title)
		if artist == "" && title == "" {
			continue
		}
		pool = append(pool, candidate{hit: h, artist: artist, title: title})
	}

	items := make([]Item, 0, len(videos)+len(pool))
	for _, v := range videos {
		if v == nil {
			continue
		}
		item := Item{
			Title:       v.Title,
			Artist:      v.Artist,
			Source:      SourceIMVDb,
			Confidence:  Score(v.Artist, v.Title, target, false),
			Metadata:    v,
			ArtworkURL:  v.ImageURL,
			Description: v.Description,
			URL:         v.DownloadURL(),
		}

		if idx, score := bestCandidate(v, pool); idx >= 0 {
			c := pool[idx]
			pool = append(pool[:idx], pool[idx+1:]...)
			hit := c.hit
			item.Source = SourceCombined
			item.YouTube = &hit
			item.Confidence = max(item.Confidence, score)
			if item.ArtworkURL == "" {
				item.ArtworkURL = hit.Thumbnail
			}
			if item.Description == "" {
				item.Description = hit.Description
			}
			if item.URL == "" {
				item.URL = hit.URL
			}
		}
		items = append(items, item)
	}

	for _, c := range pool {
		hit := c.hit
		items = append(items, Item{
			Title:       c.title,
			Artist:      c.artist,
			Source:      SourceYouTube,
			Confidence:  Score(c.artist, c.title, target, true),
			YouTube:     &hit,
			ArtworkURL:  hit.Thumbnail,
			Description: hit.Description,
			URL:         hit.URL,
		})
	}

	sortItems(items)
	return items
}

// bestCandidate returns the index of the highest scoring qualifying hit for
// v, or -1. The first of equally scored hits wins.
func bestCandidate(v *metadata.Video, pool []candidate) (int, float64) {
	key := matchKey(v.Artist, v.Title)
	target := Target{Artist: v.Artist, Title: v.Title}

	best, bestScore := -1, 0.0
	for i, c := range pool {
		var s float64
		if key != "" && matchKey(c.artist, c.title) == key {
			s = maxConfidence
		} else {
			s = Score(c.artist, c.title, target, true)
		}
		if s >= matchThreshold && s > bestScore {
			best, bestScore = i, s
		}
	}
	return best, bestScore
}

func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if (a.Source == SourceCombined) != (b.Source == SourceCombined) {
			return a.Source == SourceCombined
		}
		if ka, kb := Key(a.Title), Key(b.Title); ka != kb {
			return ka < kb
		}
		if ka, kb := Key(a.Artist), Key(b.Artist); ka != kb {
			return ka < kb
		}
		return a.URL < b.URL
	})
}
