package enginetest

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMainVersion(t *testing.T) {
	var out bytes.Buffer
	code := Main([]string{"version"}, strings.NewReader(""), &out)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), VersionLine)
}

func TestMainBadConfig(t *testing.T) {
	var out bytes.Buffer
	code := Main([]string{"run", "-config", "stdin:"}, strings.NewReader("{not json"), &out)
	assert.Equal(t, BadConfigExitCode, code)
	assert.Contains(t, out.String(), "bad config")
}

func TestMainScriptedExit(t *testing.T) {
	var out bytes.Buffer
	cfg := `{"enginetest": {"output": "boom", "lines": 2, "exit_code": 3}}`
	code := Main([]string{"run"}, strings.NewReader(cfg), &out)
	assert.Equal(t, 3, code)
	assert.Equal(t, "boom\nline 1\nline 2\n", out.String())
}

func TestMainUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 2, Main([]string{"frobnicate"}, strings.NewReader(""), &out))
	assert.Equal(t, 2, Main(nil, strings.NewReader(""), &out))
}
