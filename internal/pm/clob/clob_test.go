package clob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSignHeaders(t *testing.T) {
	secret := base64.URLEncoding.EncodeToString([]byte("topsecret"))
	creds := &Credentials{
		Address:    "0xabc",
		APIKey:     "key-1",
		Secret:     secret,
		Passphrase: "phrase",
	}
	now := time.Unix(1700000000, 0)
	body := []byte(`{"token_id":"x"}`)
	h := http.Header{}
	if err := creds.Sign(h, http.MethodPost, "/order", body, now); err != nil {
		t.Fatalf("sign: %v", err)
	}

	if h.Get("POLY-ADDRESS") != "0xabc" || h.Get("POLY-API-KEY") != "key-1" || h.Get("POLY-PASSPHRASE") != "phrase" {
		t.Fatalf("identity headers wrong: %v", h)
	}
	if h.Get("POLY-TIMESTAMP") != "1700000000" {
		t.Fatalf("timestamp header wrong: %q", h.Get("POLY-TIMESTAMP"))
	}

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write([]byte("1700000000POST/order"))
	mac.Write(body)
	want := base64.URLEncoding.EncodeToString(mac.Sum(nil))
	if h.Get("POLY-SIGNATURE") != want {
		t.Fatalf("signature mismatch: got %q want %q", h.Get("POLY-SIGNATURE"), want)
	}
}

func TestSignRejectsBadSecret(t *testing.T) {
	creds := &Credentials{Address: "a", APIKey: "k", Secret: "not-base64!!!", Passphrase: "p"}
	if err := creds.Sign(http.Header{}, http.MethodPost, "/order", nil, time.Now()); err == nil {
		t.Fatal("expected error for undecodable secret")
	}
}

func TestCredentialsComplete(t *testing.T) {
	if (&Credentials{Address: "a", APIKey: "k", Secret: "s"}).Complete() {
		t.Fatal("missing passphrase must not be complete")
	}
	if !(&Credentials{Address: "a", APIKey: "k", Secret: "s", Passphrase: "p"}).Complete() {
		t.Fatal("full credential set must be complete")
	}
	var nilCreds *Credentials
	if nilCreds.Complete() {
		t.Fatal("nil credentials must not be complete")
	}
}

func TestSlugFromURL(t *testing.T) {
	cases := map[string]string{
		"https://polymarket.com/event/lakers-vs-celtics":        "lakers-vs-celtics",
		"https://polymarket.com/event/lakers-vs-celtics/":       "lakers-vs-celtics",
		"https://polymarket.com/event/lakers-vs-celtics?tid=42": "lakers-vs-celtics",
		"lakers-vs-celtics":                                     "lakers-vs-celtics",
	}
	for in, want := range cases {
		if got := SlugFromURL(in); got != want {
			t.Fatalf("SlugFromURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveMarket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" || r.URL.Query().Get("slug") != "nba-final" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`[{"conditionId":"0xcond","question":"Who wins?","slug":"nba-final",` +
			`"outcomes":"[\"Yes\",\"No\"]","clobTokenIds":"[\"111\",\"222\"]"}]`))
	}))
	defer srv.Close()

	c := New(Config{GammaURL: srv.URL, Timeout: time.Second}, nil, zap.NewNop())
	m, err := c.ResolveMarket(context.Background(), "nba-final")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if m.ConditionID != "0xcond" || m.YesTokenID != "111" || m.NoTokenID != "222" {
		t.Fatalf("unexpected market: %+v", m)
	}
}

func TestResolveMarketRejectsNonBinary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"conditionId":"0xcond","outcomes":"[\"A\",\"B\",\"C\"]",` +
			`"clobTokenIds":"[\"1\",\"2\",\"3\"]"}]`))
	}))
	defer srv.Close()

	c := New(Config{GammaURL: srv.URL, Timeout: time.Second}, nil, zap.NewNop())
	if _, err := c.ResolveMarket(context.Background(), "x"); err == nil {
		t.Fatal("expected error for a three-outcome market")
	}
}

func TestPlaceOrderRequiresCredentials(t *testing.T) {
	c := New(Config{ClobURL: "http://localhost:0", Timeout: time.Second}, nil, zap.NewNop())
	_, err := c.PlaceOrder(context.Background(), OrderRequest{TokenID: "x", Side: "BUY", Price: 0.5, Size: 1, Kind: string(GTC)})
	if err == nil {
		t.Fatal("expected missing-credentials error")
	}
}

func TestPlaceOrderGTDRequiresExpiration(t *testing.T) {
	creds := &Credentials{Address: "a", APIKey: "k", Secret: base64.URLEncoding.EncodeToString([]byte("s")), Passphrase: "p"}
	c := New(Config{ClobURL: "http://localhost:0", Timeout: time.Second}, creds, zap.NewNop())
	_, err := c.PlaceOrder(context.Background(), OrderRequest{TokenID: "x", Side: "BUY", Price: 0.5, Size: 1, Kind: string(GTD)})
	if err == nil {
		t.Fatal("expected expiration error for GTD order")
	}
}

func TestPlaceOrderSubmitsSignedRequest(t *testing.T) {
	var gotSig, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("POLY-SIGNATURE")
		gotKey = r.Header.Get("POLY-API-KEY")
		w.Write([]byte(`{"success":true,"orderID":"ord-1","status":"live"}`))
	}))
	defer srv.Close()

	creds := &Credentials{Address: "0xa", APIKey: "k", Secret: base64.URLEncoding.EncodeToString([]byte("s")), Passphrase: "p"}
	c := New(Config{ClobURL: srv.URL, Timeout: time.Second}, creds, zap.NewNop())
	resp, err := c.PlaceOrder(context.Background(), OrderRequest{TokenID: "x", Side: "BUY", Price: 0.5, Size: 2, Kind: string(GTC)})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if resp.OrderID != "ord-1" {
		t.Fatalf("unexpected order id %q", resp.OrderID)
	}
	if gotSig == "" || gotKey != "k" {
		t.Fatalf("auth headers not sent: sig=%q key=%q", gotSig, gotKey)
	}
}

func TestPositionsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user") != "0xa" || r.URL.Query().Get("market") != "0xcond" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`[{"asset":"111","outcome":"Yes","size":10,"avgPrice":0.4,"curPrice":0.55}]`))
	}))
	defer srv.Close()

	c := New(Config{DataAPIURL: srv.URL, Timeout: time.Second}, nil, zap.NewNop())
	entries, err := c.Positions(context.Background(), "0xa", "0xcond")
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(entries) != 1 || entries[0].TokenID != "111" || entries[0].Size != 10 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}
