package dialer

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/die-net/xraysup/internal/socks5"
	"github.com/die-net/xraysup/internal/testutil"
)

func TestNewTransportHTTPProxyForwards(t *testing.T) {
	target := testutil.StartStatusServer(t, http.StatusNoContent)

	absolute := make(chan bool, 1)
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		absolute <- r.URL.IsAbs()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer proxy.Close()

	proxyURL, err := url.Parse(proxy.URL)
	if err != nil {
		t.Fatal(err)
	}
	hp, err := NewHTTPProxyDialer(Config{}, proxyURL, "", "")
	if err != nil {
		t.Fatal(err)
	}

	client := &http.Client{Transport: NewTransport(hp), Timeout: 2 * time.Second}
	resp, err := client.Get(target.URL)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if !<-absolute {
		t.Fatal("proxy did not receive an absolute-form request")
	}
	if target.Hits() != 0 {
		t.Fatal("request bypassed the proxy")
	}
}

func TestNewTransportSOCKS5(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	target := testutil.StartStatusServer(t, http.StatusNoContent)
	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		testutil.ServeSOCKS5(ctx, c, socks5.Auth{})
	})

	d, err := NewSOCKS5ProxyDialer(Config{}, upLn.Addr().String(), "", "")
	if err != nil {
		t.Fatal(err)
	}

	client := &http.Client{Transport: NewTransport(d), Timeout: 2 * time.Second}
	resp, err := client.Get(target.URL)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if target.Hits() != 1 {
		t.Fatalf("target hits %d", target.Hits())
	}
	waitUp()
}
