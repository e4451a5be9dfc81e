package metadata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

const searchBody = `{"total_results":2,"results":[
 {"id":121779770452,"song_title":"Get Lucky","url":"https://imvdb.com/video/daft-punk/get-lucky","year":2013,
  "artists":[{"name":"Daft Punk","slug":"daft-punk"}],"image":{"o":"https://img/o.jpg","l":"https://img/l.jpg"}},
 {"id":2,"song_title":"Lose Yourself to Dance","year":null,"artists":[{"name":"Daft Punk"}],"image":{"b":"https://img/b.jpg"}}
]}`

const detailBody = `{"id":121779770452,"song_title":"Get Lucky","year":2013,
 "artists":[{"name":"Daft Punk"}],"featured_artists":[{"name":"Pharrell Williams"},{"name":"Nile Rodgers"}],
 "directors":[{"entity_name":"Cédric Hervet"}],
 "sources":[{"source":"vimeo","source_data":"999","is_primary":false},
            {"source":"youtube","source_data":"alt","is_primary":false},
            {"source":"youtube","source_data":"5NV6Rdv1a3I","is_primary":true}]}`

func TestIMVDbSearchAndDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("IMVDB-APP-KEY") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/search/videos":
			if r.URL.Query().Get("q") != "daft punk get lucky" || r.URL.Query().Get("per_page") != "5" {
				t.Errorf("unexpected query %s", r.URL.RawQuery)
			}
			w.Write([]byte(searchBody))
		case "/video/121779770452":
			w.Write([]byte(detailBody))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewIMVDbClient("secret", srv.URL+"/", 0)
	ctx := context.Background()

	results, err := c.Search(ctx, "daft punk get lucky", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	first := results[0]
	if first.ExternalID != "121779770452" || first.Title != "Get Lucky" || first.Artist != "Daft Punk" || first.Year != 2013 {
		t.Errorf("first = %+v", first)
	}
	if first.ImageURL != "https://img/o.jpg" || first.Detailed {
		t.Errorf("first image/detailed = %q/%v", first.ImageURL, first.Detailed)
	}
	if results[1].Year != 0 || results[1].ImageURL != "https://img/b.jpg" {
		t.Errorf("second = %+v", results[1])
	}

	d, err := c.GetDetails(ctx, first.ExternalID)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Detailed || len(d.FeaturedArtists) != 2 || len(d.Directors) != 1 {
		t.Errorf("details = %+v", d)
	}
	if len(d.YouTubeIDs) != 2 || d.YouTubeIDs[0] != "5NV6Rdv1a3I" {
		t.Errorf("YouTubeIDs = %v, want primary first", d.YouTubeIDs)
	}
	if d.DownloadURL() != "https://www.youtube.com/watch?v=5NV6Rdv1a3I" {
		t.Errorf("DownloadURL = %q", d.DownloadURL())
	}
}

func TestIMVDb_notConfigured(t *testing.T) {
	c := NewIMVDbClient("", "http://unused", 0)
	if _, err := c.Search(context.Background(), "x", 1); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestIMVDb_retriesOn429(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	c := NewIMVDbClient("k", srv.URL, 0)
	if _, err := c.Search(context.Background(), "x", 1); err != nil {
		t.Fatalf("Search after 429: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestIMVDb_httpError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewIMVDbClient("k", srv.URL, 0).Search(context.Background(), "x", 1)
	if err == nil {
		t.Fatal("expected error on HTTP 500")
	}
}
