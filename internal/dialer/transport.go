package dialer

import (
	"net/http"
)

// NewTransport returns an http.Transport that sends every request through d.
//
// An HTTPProxyDialer is used as a forward proxy (absolute-form requests) so
// plain-http targets reach the proxy the way a browser would; any other
// Dialer carries the connection itself. Keep-alives are disabled.
func NewTransport(d Dialer) *http.Transport {
	t := &http.Transport{
		DisableKeepAlives: true,
		ForceAttemptHTTP2: false,
	}
	if hp, ok := d.(*HTTPProxyDialer); ok {
		t.Proxy = http.ProxyURL(hp.ProxyURL())
		t.DialContext = hp.Direct().DialContext
		return t
	}
	t.DialContext = d.DialContext
	return t
}
