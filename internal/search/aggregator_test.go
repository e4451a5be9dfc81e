package search

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/JustinTDCT/VideoJockey/internal/fetcher"
	"github.com/JustinTDCT/VideoJockey/internal/metadata"
)

type fakeDatabase struct {
	mu        sync.Mutex
	videos    []*metadata.Video
	searchErr error
	detailErr map[string]error
	details   []string
}

func (f *fakeDatabase) Search(ctx context.Context, query string, limit int) ([]*metadata.Video, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	out := make([]*metadata.Video, 0, len(f.videos))
	for _, v := range f.videos {
		c := *v
		out = append(out, &c)
	}
	return out, nil
}

func (f *fakeDatabase) GetDetails(ctx context.Context, id string) (*metadata.Video, error) {
	f.mu.Lock()
	f.details = append(f.details, id)
	f.mu.Unlock()
	if err := f.detailErr[id]; err != nil {
		return nil, err
	}
	for _, v := range f.videos {
		if v.ExternalID == id {
			c := *v
			c.Detailed = true
			c.Description = "detail for " + id
			return &c, nil
		}
	}
	return nil, errors.New("no such video")
}

type fakeTitles struct {
	hits []fetcher.SearchHit
	err  error
}

func (f *fakeTitles) SearchTitles(ctx context.Context, query string, max int) ([]fetcher.SearchHit, error) {
	return f.hits, f.err
}

func getLuckyProviders() (*fakeDatabase, *fakeTitles) {
	db := &fakeDatabase{videos: []*metadata.Video{{
		Source: "imvdb", ExternalID: "1", Title: "Get Lucky", Artist: "Daft Punk",
		ImageURL: "https://img/get-lucky.jpg",
	}}}
	yt := &fakeTitles{hits: []fetcher.SearchHit{
		{ID: "yt1", Title: "Daft Punk - Get Lucky (Official Music Video) ft. Pharrell Williams",
			URL: "https://www.youtube.com/watch?v=yt1", Thumbnail: "https://i.ytimg.com/yt1.jpg"},
		{ID: "yt2", Title: "Daft Punk - Instant Crush (Official Video)", URL: "https://www.youtube.com/watch?v=yt2"},
	}}
	return db, yt
}

func TestSearch_combinesMatchingResults(t *testing.T) {
	db, yt := getLuckyProviders()
	agg := NewAggregator(db, yt, nil)

	res := agg.Search(context.Background(), Query{
		Artist: "Daft Punk", Title: "Get Lucky", IncludeIMVDb: true, IncludeYouTube: true,
	})
	if len(res.Warnings) != 0 {
		t.Errorf("warnings = %v", res.Warnings)
	}
	if len(res.Items) != 2 {
		t.Fatalf("items = %+v, want combined + unmatched", res.Items)
	}
	top := res.Items[0]
	if top.Source != SourceCombined || top.Confidence < 0.9 {
		t.Errorf("top = %+v, want combined with confidence >= 0.9", top)
	}
	if top.YouTube == nil || top.YouTube.ID != "yt1" || top.Metadata == nil {
		t.Errorf("combined item lost provider data: %+v", top)
	}
	if top.URL != "https://www.youtube.com/watch?v=yt1" {
		t.Errorf("combined URL = %q, want best-effort hit URL", top.URL)
	}
	if top.ArtworkURL != "https://img/get-lucky.jpg" || top.Description != "detail for 1" {
		t.Errorf("combined artwork/description = %q / %q", top.ArtworkURL, top.Description)
	}
	other := res.Items[1]
	if other.Source != SourceYouTube || other.Artist != "Daft Punk" || other.Title != "Instant Crush" {
		t.Errorf("unmatched = %+v", other)
	}
}

func TestSearch_emptyQuery(t *testing.T) {
	db, yt := getLuckyProviders()
	res := NewAggregator(db, yt, nil).Search(context.Background(), Query{FreeText: "  ", IncludeIMVDb: true, IncludeYouTube: true})
	if len(res.Items) != 0 || len(res.Warnings) != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(db.details) != 0 {
		t.Error("providers must not be called for an empty query")
	}
}

func TestSearch_providerFailuresAreWarnings(t *testing.T) {
	db, yt := getLuckyProviders()
	db.searchErr = errors.New("quota exceeded")
	res := NewAggregator(db, yt, nil).Search(context.Background(), Query{
		FreeText: "daft punk", IncludeIMVDb: true, IncludeYouTube: true,
	})
	if len(res.Warnings) != 1 || !strings.HasPrefix(res.Warnings[0], "imvdb:") {
		t.Errorf("warnings = %v", res.Warnings)
	}
	if len(res.Items) != 2 {
		t.Errorf("youtube results should survive: %+v", res.Items)
	}

	db.searchErr = nil
	yt.err = errors.New("yt-dlp: exit status 1")
	res = NewAggregator(db, yt, nil).Search(context.Background(), Query{
		FreeText: "daft punk", IncludeIMVDb: true, IncludeYouTube: true,
	})
	if len(res.Warnings) != 1 || !strings.HasPrefix(res.Warnings[0], "youtube:") {
		t.Errorf("warnings = %v", res.Warnings)
	}
	if len(res.Items) != 1 || res.Items[0].Source != SourceIMVDb {
		t.Errorf("items = %+v", res.Items)
	}

	res = NewAggregator(nil, nil, nil).Search(context.Background(), Query{
		FreeText: "daft punk", IncludeIMVDb: true, IncludeYouTube: true,
	})
	if len(res.Warnings) != 2 || len(res.Items) != 0 {
		t.Errorf("nil providers: %+v", res)
	}
}

func TestSearch_detailLookupsBounded(t *testing.T) {
	db := &fakeDatabase{detailErr: map[string]error{"2": errors.New("timeout")}}
	for i := 1; i <= 8; i++ {
		id := string(rune('0' + i))
		db.videos = append(db.videos, &metadata.Video{ExternalID: id, Title: "Song " + id, Artist: "Band"})
	}
	res := NewAggregator(db, nil, nil).Search(context.Background(), Query{
		Artist: "Band", IncludeIMVDb: true,
	})
	if len(db.details) != 5 {
		t.Errorf("detail lookups = %d, want 5", len(db.details))
	}
	if len(res.Items) != 8 {
		t.Errorf("items = %d, want 8", len(res.Items))
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "details for 2") {
		t.Errorf("warnings = %v", res.Warnings)
	}
	detailed := 0
	for _, it := range res.Items {
		if it.Metadata != nil && it.Metadata.Detailed {
			detailed++
		}
	}
	if detailed != 4 {
		t.Errorf("detailed items = %d, want 4", detailed)
	}
}

func TestSearch_maxResultsClamped(t *testing.T) {
	yt := &fakeTitles{}
	for i := 0; i < 60; i++ {
		yt.hits = append(yt.hits, fetcher.SearchHit{ID: string(rune('A' + i)), Title: "Song", URL: "u"})
	}
	res := NewAggregator(nil, yt, nil).Search(context.Background(), Query{FreeText: "song", MaxResults: 500, IncludeYouTube: true})
	if len(res.Items) != MaxResultsLimit {
		t.Errorf("items = %d, want %d", len(res.Items), MaxResultsLimit)
	}
}

func TestFuse_deterministic(t *testing.T) {
	videos := []*metadata.Video{
		{ExternalID: "1", Title: "Get Lucky", Artist: "Daft Punk"},
		{ExternalID: "2", Title: "One More Time", Artist: "Daft Punk"},
		{ExternalID: "3", Title: "Around the World", Artist: "Daft Punk"},
	}
	hits := []fetcher.SearchHit{
		{ID: "a", Title: "Daft Punk - One More Time (Official Video)", URL: "a"},
		{ID: "b", Title: "Daft Punk - Get Lucky [HD]", URL: "b"},
		{ID: "c", Title: "Daft Punk Get Lucky live", URL: "c"},
		{ID: "d", Title: "Random Cover - Get Lucky", URL: "d"},
		{ID: "e", Title: "Daft Punk - One More Time (Official Video)", URL: "e"},
	}
	q := Query{FreeText: "daft punk"}

	first := Fuse(q, videos, hits)
	for i := 0; i < 20; i++ {
		if got := Fuse(q, videos, hits); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs:\n%+v\n%+v", i, got, first)
		}
	}

	combined := map[string]string{}
	for _, it := range first {
		if it.Source == SourceCombined {
			combined[it.Metadata.ExternalID] = it.YouTube.ID
		}
	}
	// "3" pairs with the leftover same-artist upload: artist agreement alone
	// scores 0.6.
	want := map[string]string{"1": "b", "2": "a", "3": "e"}
	if !reflect.DeepEqual(combined, want) {
		t.Errorf("combined partition = %v, want %v", combined, want)
	}
	for i := 1; i < len(first); i++ {
		if first[i-1].Confidence < first[i].Confidence {
			t.Errorf("items not sorted by confidence at %d: %+v", i, first)
		}
	}
}

func TestSortItems_tieBreaks(t *testing.T) {
	items := []Item{
		{Title: "b", Source: SourceIMVDb, Confidence: 0.5},
		{Title: "a", Source: SourceYouTube, Confidence: 0.5},
		{Title: "z", Source: SourceCombined, Confidence: 0.5},
		{Title: "c", Source: SourceIMVDb, Confidence: 0.9},
	}
	sortItems(items)
	var got []string
	for _, it := range items {
		got = append(got, it.Title)
	}
	want := []string{"c", "z", "a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}
