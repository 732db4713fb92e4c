package enginetest

import (
	"context"
	"fmt"
	"net"
)

func listenTCP(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{}

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	return ln, nil
}
