package dialer

import (
	"net"
	"time"
)

// Config holds timeouts shared by every dialer.
type Config struct {
	DialTimeout time.Duration
	// NegotiationTimeout bounds proxy handshakes (CONNECT or SOCKS5). Zero
	// means only the context bounds them.
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig
}
