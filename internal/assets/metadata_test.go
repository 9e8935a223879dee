package assets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggonzalez94/defi-tokens/internal/httpx"
)

func TestMetadataFetchedOncePerChainAndFiltered(t *testing.T) {
	var hits atomic.Int32
	var path atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		path.Store(r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"address":"0x6B175474E89094C44Da98b954EedeAC495271d0F","description":"Dai stablecoin","website":"https://makerdao.com"},
			{"address":"0x00000000000000000000000000000000000000aa","description":"bar"}
		]`))
	}))
	defer srv.Close()

	svc := NewMetadata(httpx.New(2*time.Second, 0), srv.URL+"/tokens/{chain_id}/all", 250, time.Hour)
	all, err := svc.Metadata(context.Background(), nil)
	if err != nil {
		t.Fatalf("Metadata failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %+v", all)
	}
	if got := path.Load(); got != "/tokens/250/all" {
		t.Fatalf("unexpected request path %v", got)
	}

	filtered, err := svc.Metadata(context.Background(), []string{"0x6b175474e89094c44da98b954eedeac495271d0f"})
	if err != nil {
		t.Fatalf("Metadata failed: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Description != "Dai stablecoin" || filtered[0].Address != "0x6b175474e89094c44da98b954eedeac495271d0f" {
		t.Fatalf("unexpected filtered metadata %+v", filtered)
	}
	if none, _ := svc.Metadata(context.Background(), []string{"0x00000000000000000000000000000000000000bb"}); len(none) != 0 {
		t.Fatalf("expected no records for unknown address, got %+v", none)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected metadata to be fetched once, got %d", hits.Load())
	}
}
