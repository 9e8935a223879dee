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

func TestIconsFiltersByChainAndCachesList(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"tokens":[
			{"chainId":1,"address":"0x6B175474E89094C44Da98b954EedeAC495271d0F","logoURI":"https://img/dai.png"},
			{"chainId":250,"address":"0x8D11eC38a3EB5E956B052f67Da8Bdc9bef8Abf3E","logoURI":"https://img/dai-ftm.png"},
			{"chainId":1,"address":"0x00000000000000000000000000000000000000ff","logoURI":""}
		]}`))
	}))
	defer srv.Close()

	svc := New(httpx.New(2*time.Second, 0), srv.URL, 1, time.Hour)
	icons, err := svc.Icons(context.Background(), []string{
		"0x6b175474e89094c44da98b954eedeac495271d0f",
		"0x8D11eC38a3EB5E956B052f67Da8Bdc9bef8Abf3E",
		"0x00000000000000000000000000000000000000ff",
	})
	if err != nil {
		t.Fatalf("Icons failed: %v", err)
	}
	if len(icons) != 1 || icons["0x6b175474e89094c44da98b954eedeac495271d0f"] != "https://img/dai.png" {
		t.Fatalf("unexpected icons %+v", icons)
	}
	if _, err := svc.Icons(context.Background(), nil); err != nil {
		t.Fatalf("Icons failed: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected token list to be fetched once, got %d", hits.Load())
	}
}
