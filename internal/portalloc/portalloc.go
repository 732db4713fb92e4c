package portalloc

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"sync"
)

const (
	// MinPort is the lowest port AllocatePair will hand out.
	MinPort = 10800
	// MaxPort is exclusive.
	MaxPort = 65535

	socksWindowStart = MinPort
	socksWindowEnd   = 20000
	httpWindowStart  = 20001
	httpWindowEnd    = 30000
)

// ErrNoPortAvailable is returned when a scan reaches MaxPort without finding a
// bindable port.
var ErrNoPortAvailable = errors.New("no available port")

// Pair is the (SOCKS, HTTP) inbound port pair of one engine process.
type Pair struct {
	SOCKS int
	HTTP  int
}

// FindAvailablePort scans upward from start and returns the first port that
// can be bound on 127.0.0.1. The probe listener is closed before returning.
func FindAvailablePort(start int) (int, error) {
	return findAvailable(start, nil)
}

func findAvailable(start int, skip func(int) bool) (int, error) {
	if start < 1 {
		start = 1
	}
	for port := start; port < MaxPort; port++ {
		if skip != nil && skip(port) {
			continue
		}
		if IsAvailable(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("scan from %d: %w", start, ErrNoPortAvailable)
}

// IsAvailable reports whether port can currently be bound on loopback.
func IsAvailable(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// Allocator hands out port pairs and remembers which ports it has given out
// until they are released. The reservation only protects callers sharing the
// same Allocator.
type Allocator struct {
	mu       sync.Mutex
	reserved map[int]struct{}

	// intN is swapped out by tests.
	intN func(n int) int
}

func NewAllocator() *Allocator {
	return &Allocator{
		reserved: make(map[int]struct{}),
		intN:     rand.IntN,
	}
}

// AllocatePair picks a SOCKS port searching from a random offset in
// [10800, 20000] and an HTTP port from a random offset in [20001, 30000].
// Both ports are reserved until Release is called.
func (a *Allocator) AllocatePair() (Pair, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	socksStart := socksWindowStart + a.intN(socksWindowEnd-socksWindowStart+1)
	httpStart := httpWindowStart + a.intN(httpWindowEnd-httpWindowStart+1)

	socks, err := findAvailable(socksStart, a.isReserved)
	if err != nil {
		return Pair{}, fmt.Errorf("socks port: %w", err)
	}
	http, err := findAvailable(httpStart, a.isReserved)
	if err != nil {
		return Pair{}, fmt.Errorf("http port: %w", err)
	}
	for http == socks {
		if http, err = findAvailable(http+1, a.isReserved); err != nil {
			return Pair{}, fmt.Errorf("http port: %w", err)
		}
	}

	a.reserved[socks] = struct{}{}
	a.reserved[http] = struct{}{}
	return Pair{SOCKS: socks, HTTP: http}, nil
}

// Release returns both ports of p to the pool.
func (a *Allocator) Release(p Pair) {
	a.mu.Lock()
	delete(a.reserved, p.SOCKS)
	delete(a.reserved, p.HTTP)
	a.mu.Unlock()
}

// Reserved returns the number of ports currently handed out.
func (a *Allocator) Reserved() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reserved)
}

// isReserved must be called with a.mu held.
func (a *Allocator) isReserved(port int) bool {
	_, ok := a.reserved[port]
	return ok
}
