package engine

import (
	"os"
	"os/exec"
	"runtime"

	"github.com/die-net/xraysup/internal/settings"
)

// EnvAssetLocation tells the engine where to find geoip/geosite data.
const EnvAssetLocation = "XRAY_LOCATION_ASSET"

// RunArgs makes the engine read its configuration from standard input and
// stay in the foreground.
var RunArgs = []string{"run", "-config", "stdin:"}

// Resolver returns the binary path to launch.
type Resolver func() string

// NewResolver resolves the binary from p on every call, falling back to a
// PATH lookup and then to a platform default.
func NewResolver(p settings.Provider) Resolver {
	return func() string {
		if p != nil {
			if s, err := p.Load(); err == nil && s.XrayBinary != "" {
				return s.XrayBinary
			}
		}
		return LookupBinary()
	}
}

// Fixed always resolves to path.
func Fixed(path string) Resolver {
	return func() string { return path }
}

// LookupBinary searches PATH for xray, then falls back to DefaultBinary.
func LookupBinary() string {
	for _, name := range []string{"xray", "xray.exe"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return DefaultBinary(runtime.GOOS)
}

// DefaultBinary is where the engine is installed by default on goos.
func DefaultBinary(goos string) string {
	if goos == "windows" {
		return `C:\Program Files\Xray\xray.exe`
	}
	return "/usr/bin/xray"
}

// Environ returns the child environment: the current environment plus the
// asset location when assetsDir is set.
func Environ(assetsDir string, extra ...string) []string {
	env := os.Environ()
	if assetsDir != "" {
		env = append(env, EnvAssetLocation+"="+assetsDir)
	}
	return append(env, extra...)
}
