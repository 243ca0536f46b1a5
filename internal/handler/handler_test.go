package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/web3-frozen/staking-offers/internal/domain"
	"github.com/web3-frozen/staking-offers/internal/offers"
	"github.com/web3-frozen/staking-offers/internal/pricing"
	"github.com/web3-frozen/staking-offers/internal/repo/memory"
)

var now = time.Date(2024, 9, 30, 12, 0, 0, 0, time.UTC)

type testServer struct {
	router http.Handler
	offers []domain.Offer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	s := memory.New(memory.WithClock(func() time.Time { return now }))

	coin, _, err := s.Coins().Ensure(ctx, domain.Coin{Code: "TIA", IsActive: true})
	if err != nil {
		t.Fatal(err)
	}
	chain, _, err := s.Chains().Ensure(ctx, "Celestia")
	if err != nil {
		t.Fatal(err)
	}

	ts := &testServer{}
	for i, name := range []string{"Alpha", "Beta", "Gamma"} {
		pool, _, err := s.Pools().Ensure(ctx, domain.Pool{Name: name, Source: "validator.info", IsActive: true})
		if err != nil {
			t.Fatal(err)
		}
		apr := float64(i + 4)
		o, err := s.Offers().Append(ctx, domain.Offer{
			CoinID: coin.ID, PoolID: pool.ID, ChainID: chain.ID, APR: &apr, CreatedAt: now.Add(-time.Hour),
		})
		if err != nil {
			t.Fatal(err)
		}
		ts.offers = append(ts.offers, o)
	}

	res := offers.NewResolver(s, pricing.NewAttacher(s.Prices(), 16, time.Minute), offers.Options{
		MaxPageSize: 50,
		Now:         func() time.Time { return now },
	})
	r := chi.NewRouter()
	r.Get("/healthz", Health())
	r.Get("/readyz", Ready(s))
	r.Get("/api/offers", ListOffers(res))
	r.Get("/api/offers/{id}", GetOffer(res))
	r.Get("/api/coins", ListCoins(res))
	r.Get("/api/pools", ListPools(res))
	r.Get("/api/chains", ListChains(res))
	ts.router = r
	return ts
}

func (ts *testServer) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestListOffers(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.get(t, "/api/offers?page_size=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var page offers.Page[offers.OfferView]
	if err := json.NewDecoder(rec.Body).Decode(&page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.TotalItems != 3 || page.TotalPages != 2 || page.PageSize != 2 || page.Page != 1 {
		t.Errorf("meta = %+v", page.Meta)
	}
	if len(page.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(page.Items))
	}
	if *page.Items[0].APR != 6 {
		t.Errorf("first apr = %v, want 6 (default ordering -apr)", *page.Items[0].APR)
	}
	if page.Items[0].Coin.Code != "TIA" || page.Items[0].Chain.Name != "Celestia" {
		t.Errorf("identities not joined: %+v", page.Items[0])
	}
}

func TestListOffersFilterAndOrdering(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.get(t, "/api/offers?apr_min=4.5&ordering=apr")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var page offers.Page[offers.OfferView]
	if err := json.NewDecoder(rec.Body).Decode(&page); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || *page.Items[0].APR != 5 || *page.Items[1].APR != 6 {
		t.Errorf("items = %+v", page.Items)
	}
}

func TestListOffersBadParams(t *testing.T) {
	ts := newTestServer(t)
	for _, target := range []string{
		"/api/offers?coin_id=nope",
		"/api/offers?apr_min=high",
		"/api/offers?lock_period_max=1.5",
		"/api/offers?page=first",
		"/api/offers?apr_min=9&apr_max=1",
	} {
		rec := ts.get(t, target)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
		var body map[string]string
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body["error"] == "" {
			t.Errorf("%s: body missing error field", target)
		}
	}
}

func TestListOffersHugePageIsEmpty(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.get(t, "/api/offers?page=9223372036854775807")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var page offers.Page[offers.OfferView]
	if err := json.NewDecoder(rec.Body).Decode(&page); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 0 || page.TotalItems != 3 {
		t.Errorf("page = %+v, want no items of 3", page)
	}
}

func TestGetOffer(t *testing.T) {
	ts := newTestServer(t)
	id := ts.offers[0].ID

	rec := ts.get(t, "/api/offers/"+id.String()+"?days=7")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var detail offers.OfferDetail
	if err := json.NewDecoder(rec.Body).Decode(&detail); err != nil {
		t.Fatal(err)
	}
	if detail.ID != id || len(detail.History) != 1 {
		t.Errorf("detail = %+v", detail)
	}
}

func TestGetOfferErrors(t *testing.T) {
	ts := newTestServer(t)
	id := ts.offers[0].ID.String()

	tests := []struct {
		target string
		want   int
	}{
		{"/api/offers/" + uuid.NewString(), http.StatusNotFound},
		{"/api/offers/not-a-uuid", http.StatusNotFound},
		{"/api/offers/" + id + "?days=0", http.StatusBadRequest},
		{"/api/offers/" + id + "?days=week", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := ts.get(t, tt.target); rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.target, rec.Code, tt.want)
		}
	}
}

func TestListIdentities(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.get(t, "/api/pools?page_size=1&page=3")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var page offers.Page[domain.Pool]
	if err := json.NewDecoder(rec.Body).Decode(&page); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.Items[0].Name != "Gamma" || page.TotalItems != 3 {
		t.Errorf("page = %+v", page)
	}

	for _, target := range []string{"/api/coins", "/api/chains"} {
		if rec := ts.get(t, target); rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d", target, rec.Code)
		}
	}
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthAndReady(t *testing.T) {
	rec := httptest.NewRecorder()
	Health().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	Ready(pingFunc(func(context.Context) error { return nil })).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("readyz ok = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	Ready(pingFunc(func(context.Context) error { return errors.New("down") })).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz down = %d", rec.Code)
	}
}

func TestWriteErrorHidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errors.New("pq: connection refused"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != "{\"error\":\"internal server error\"}\n" {
		t.Errorf("body = %q", got)
	}
}
