package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"regexp"
	"strings"
)

// VersionInfo is what "<binary> version" reported.
type VersionInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
	Arch      string `json:"arch,omitempty"`
	Error     string `json:"error,omitempty"`
}

var (
	// Xray 1.8.4 (Xray, Penetrates Everything.) 2cba2c4 (go1.24.1 linux/amd64)
	versionLineRE = regexp.MustCompile(`^Xray\s+([0-9]+\.[0-9]+\.[0-9]+)[^\n]*?(?:\s+([0-9a-f]{7,}))?\s*\((go[0-9.]+)\s+([^\s)]+)\)`)
	goVersionRE   = regexp.MustCompile(`(?i)go version ([^\s]+)`)
	archRE        = regexp.MustCompile(`(amd64|arm64|386|arm)`)
)

// ProbeVersion runs "<binary> version". A missing binary or a non-zero exit
// yields Available=false with Error set; it never returns an error itself.
func ProbeVersion(ctx context.Context, binary string) VersionInfo {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, "version")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = SysProcAttr()

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
			return VersionInfo{Error: "xray binary not found: " + binary}
		case errors.As(err, &exitErr):
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = fmt.Sprintf("%s version exited with code %d", binary, exitErr.ExitCode())
			}
			return VersionInfo{Error: msg}
		default:
			return VersionInfo{Error: err.Error()}
		}
	}

	return ParseVersion(stdout.String())
}

// ParseVersion extracts version fields from free-form version output.
func ParseVersion(output string) VersionInfo {
	info := VersionInfo{Available: true}

	for line := range strings.SplitSeq(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := versionLineRE.FindStringSubmatch(line); m != nil {
			info.Version = m[1]
			if m[2] != "" {
				info.Commit = m[2]
			}
			info.GoVersion = m[3]
			info.Arch = m[4]
			continue
		}

		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "commit:"):
			_, after, _ := strings.Cut(line, ":")
			info.Commit = strings.TrimSpace(after)
		case strings.Contains(lower, "go version"):
			if m := goVersionRE.FindStringSubmatch(line); m != nil {
				info.GoVersion = m[1]
			}
			if m := archRE.FindString(line); m != "" {
				info.Arch = m
			}
		case strings.Contains(line, "/"):
			if m := archRE.FindString(line); m != "" {
				info.Arch = m
			}
		}
	}
	return info
}
