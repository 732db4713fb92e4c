package testutil

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"

	"github.com/die-net/xraysup/internal/socks5"
)

// ServeCONNECT answers one HTTP CONNECT request on c and relays bytes to the
// requested target.
func ServeCONNECT(ctx context.Context, c net.Conn) {
	br := bufio.NewReader(c)
	req, err := http.ReadRequest(br)
	if err != nil {
		return
	}
	_ = req.Body.Close()
	if req.Method != http.MethodConnect {
		_, _ = io.WriteString(c, "HTTP/1.1 405 Method Not Allowed\r\n\r\n")
		return
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", req.Host)
	if err != nil {
		_, _ = io.WriteString(c, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
		return
	}
	defer dst.Close()

	_, _ = io.WriteString(c, "HTTP/1.1 200 Connection Established\r\n\r\n")
	relay(c, br, dst)
}

// ServeSOCKS5 answers one SOCKS5 CONNECT on c and relays bytes to the target.
func ServeSOCKS5(ctx context.Context, c net.Conn, auth socks5.Auth) {
	target, err := socks5.Accept(c, auth)
	if err != nil {
		return
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		socks5.RejectRefused(c)
		return
	}
	defer dst.Close()

	if err := socks5.Succeed(c, dst.LocalAddr()); err != nil {
		return
	}
	relay(c, c, dst)
}

func relay(c net.Conn, r io.Reader, dst net.Conn) {
	go func() {
		_, _ = io.Copy(dst, r)
		_ = dst.Close()
	}()
	_, _ = io.Copy(c, dst)
}
