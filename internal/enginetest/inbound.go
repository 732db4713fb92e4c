package enginetest

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/die-net/xraysup/internal/dialer"
	"github.com/die-net/xraysup/internal/socks5"
)

const negotiationTimeout = 5 * time.Second

// httpInbound serves an HTTP forward proxy: CONNECT tunnels and
// absolute-form requests.
type httpInbound struct {
	ctx    context.Context
	delay  time.Duration
	dialer dialer.Dialer
	srv    *http.Server
	rp     *httputil.ReverseProxy
}

func newHTTPInbound(ctx context.Context, delay time.Duration) *httpInbound {
	d := dialer.NewDirectDialer(dialer.Config{DialTimeout: negotiationTimeout})
	h := &httpInbound{ctx: ctx, delay: delay, dialer: d, rp: newReverseProxy(d)}
	h.srv = &http.Server{
		Handler:           http.HandlerFunc(h.handle),
		ReadHeaderTimeout: negotiationTimeout,
		BaseContext: func(net.Listener) context.Context {
			return h.ctx
		},
	}
	return h
}

func (s *httpInbound) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

func (s *httpInbound) handle(w http.ResponseWriter, r *http.Request) {
	if strings.EqualFold(r.Method, http.MethodConnect) {
		s.handleConnect(w, r)
		return
	}
	s.rp.ServeHTTP(w, r)
}

func (s *httpInbound) handleConnect(w http.ResponseWriter, r *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, brw, err := hj.Hijack()
	if err != nil {
		http.Error(w, "hijack failed", http.StatusInternalServerError)
		return
	}
	_ = brw.Flush()

	target := r.Host
	if _, _, err := net.SplitHostPort(target); err != nil {
		target = net.JoinHostPort(target, "443")
	}

	ctx := s.ctx
	serverConn, err := s.dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		_, _ = writeError(brw, err, http.StatusBadGateway)
		_ = brw.Flush()
		_ = clientConn.Close()
		return
	}

	if !pause(ctx, s.delay) {
		_ = serverConn.Close()
		_ = clientConn.Close()
		return
	}
	_, _ = brw.WriteString("HTTP/1.1 200 Connection Established\r\n\r\n")
	_ = brw.Flush()

	_ = copyBidirectional(ctx, clientConn, serverConn)
}

// writeError simulates http.Error() for use on a hijacked connection.
func writeError(brw *bufio.ReadWriter, err error, code int) (int, error) {
	return fmt.Fprintf(brw, "HTTP/1.1 %d %s\r\nContent-Type: text/plain; charset=utf-8\r\nConnection: close\r\n\r\n%s\r\n", code, http.StatusText(code), err.Error())
}

func newReverseProxy(d dialer.Dialer) *httputil.ReverseProxy {
	rewrite := func(pr *httputil.ProxyRequest) {
		u := *pr.In.URL
		if u.Scheme == "" {
			u.Scheme = "http"
		}
		if u.Host == "" {
			u.Host = pr.In.Host
		}
		pr.Out.URL = &u
		pr.Out.Host = u.Host
	}

	errHandler := func(w http.ResponseWriter, _ *http.Request, err error) {
		http.Error(w, err.Error(), http.StatusBadGateway)
	}

	return &httputil.ReverseProxy{
		Rewrite:      rewrite,
		Transport:    &http.Transport{DialContext: d.DialContext, DisableKeepAlives: true},
		ErrorHandler: errHandler,
	}
}

// socksInbound serves unauthenticated SOCKS5 CONNECT.
type socksInbound struct {
	ctx    context.Context
	delay  time.Duration
	dialer dialer.Dialer
}

func newSOCKSInbound(ctx context.Context, delay time.Duration) *socksInbound {
	return &socksInbound{
		ctx:    ctx,
		delay:  delay,
		dialer: dialer.NewDirectDialer(dialer.Config{DialTimeout: negotiationTimeout}),
	}
}

func (s *socksInbound) Serve(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(c)
	}
}

func (s *socksInbound) handleConn(conn net.Conn) {
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(negotiationTimeout))
	target, err := socks5.Accept(conn, socks5.Auth{})
	if err != nil {
		return
	}

	dst, err := s.dialer.DialContext(s.ctx, "tcp", target)
	if err != nil {
		socks5.RejectRefused(conn)
		return
	}
	if !pause(s.ctx, s.delay) {
		_ = dst.Close()
		return
	}
	if err := socks5.Succeed(conn, dst.LocalAddr()); err != nil {
		_ = dst.Close()
		return
	}
	_ = conn.SetDeadline(time.Time{})

	_ = copyBidirectional(s.ctx, conn, dst)
}

// pause sleeps for d unless ctx ends first.
func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
