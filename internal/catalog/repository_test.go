package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/JustinTDCT/VideoJockey/internal/db"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	d, err := db.Connect(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := db.Migrate(d); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewRepository(d)
}

func count(t *testing.T, r *Repository) int {
	t.Helper()
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM videos`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestUpsert_byProviderID(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	first, created, err := r.Upsert(ctx, &Video{
		Title: "Get Lucky", Artist: "Daft Punk", Provider: "youtube", ProviderID: "5NV6Rdv1a3I",
		FilePath: "/data/a.mp4", Width: 1280,
	})
	if err != nil || !created {
		t.Fatalf("first upsert: created=%v err=%v", created, err)
	}

	second, created, err := r.Upsert(ctx, &Video{
		Title: "Get Lucky (Radio Edit)", Artist: "Daft Punk", Provider: "youtube", ProviderID: "5NV6Rdv1a3I",
		FilePath: "/data/b.mp4", Height: 720,
	})
	if err != nil {
		t.Fatal(err)
	}
	if created || second.ID != first.ID {
		t.Errorf("second upsert created=%v id=%s, want update of %s", created, second.ID, first.ID)
	}
	if n := count(t, r); n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}

	got, err := r.Get(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Get Lucky (Radio Edit)" || got.FilePath != "/data/b.mp4" {
		t.Errorf("fields not updated: %+v", got)
	}
	if got.Width != 1280 || got.Height != 720 {
		t.Errorf("empty fields should not erase stored ones: %+v", got)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at changed: %v -> %v", first.CreatedAt, got.CreatedAt)
	}
}

func TestUpsert_titleArtistFallback(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	a, _, err := r.Upsert(ctx, &Video{Title: "Creep", Artist: "Radiohead"})
	if err != nil {
		t.Fatal(err)
	}
	b, created, err := r.Upsert(ctx, &Video{Title: "Creep", Artist: "Radiohead", Year: 1992})
	if err != nil {
		t.Fatal(err)
	}
	if created || a.ID != b.ID || b.Year != 1992 {
		t.Errorf("fallback did not update: created=%v %+v", created, b)
	}

	// An entry without provider id adopts the first id it is matched with.
	c, created, err := r.Upsert(ctx, &Video{Title: "Creep", Artist: "Radiohead", Provider: "youtube", ProviderID: "XFkzRNyygfk"})
	if err != nil {
		t.Fatal(err)
	}
	if created || c.ID != a.ID || c.ProviderID != "XFkzRNyygfk" {
		t.Errorf("provider id not linked: created=%v %+v", created, c)
	}

	// A different upload of the same song is a separate entry.
	d, created, err := r.Upsert(ctx, &Video{Title: "Creep", Artist: "Radiohead", Provider: "youtube", ProviderID: "other"})
	if err != nil {
		t.Fatal(err)
	}
	if !created || d.ID == a.ID {
		t.Errorf("distinct provider id merged into existing entry")
	}

	// Case differences are not an exact match.
	if _, created, _ := r.Upsert(ctx, &Video{Title: "creep", Artist: "radiohead"}); !created {
		t.Error("fallback match should be exact")
	}
	if n := count(t, r); n != 3 {
		t.Errorf("rows = %d, want 3", n)
	}
}

func TestUpsert_idempotentUnderConcurrency(t *testing.T) {
	r := newTestRepo(t)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := r.Upsert(context.Background(), &Video{
				Title: "Around the World", Artist: "Daft Punk", Provider: "youtube", ProviderID: "LKYPYj2XX80",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Error(err)
		}
	}
	if n := count(t, r); n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
}

func TestUpsert_requiresTitle(t *testing.T) {
	r := newTestRepo(t)
	if _, _, err := r.Upsert(context.Background(), &Video{Artist: "Nobody"}); err == nil {
		t.Error("expected error for empty title")
	}
}

func TestGetAndList(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if _, err := r.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing: %v", err)
	}
	for _, v := range []Video{
		{Title: "Karma Police", Artist: "Radiohead"},
		{Title: "Creep", Artist: "Radiohead"},
		{Title: "Get Lucky", Artist: "Daft Punk"},
	} {
		v := v
		if _, _, err := r.Upsert(ctx, &v); err != nil {
			t.Fatal(err)
		}
	}

	all, err := r.List(ctx, ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	var titles []string
	for _, v := range all {
		titles = append(titles, v.Title)
	}
	want := []string{"Get Lucky", "Creep", "Karma Police"}
	if len(titles) != len(want) {
		t.Fatalf("titles = %v", titles)
	}
	for i := range want {
		if titles[i] != want[i] {
			t.Errorf("titles = %v, want %v", titles, want)
			break
		}
	}

	found, err := r.List(ctx, ListFilter{Query: "RADIO"})
	if err != nil || len(found) != 2 {
		t.Errorf("query filter: %d, %v", len(found), err)
	}
	page, err := r.List(ctx, ListFilter{Limit: 1, Offset: 1})
	if err != nil || len(page) != 1 || page[0].Title != "Creep" {
		t.Errorf("page = %+v, %v", page, err)
	}
}
