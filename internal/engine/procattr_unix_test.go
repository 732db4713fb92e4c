//go:build unix

package engine

import (
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/die-net/xraysup/internal/enginetest"
)

func TestTerminateAfterWait(t *testing.T) {
	cmd := exec.Command(enginetest.Binary(t), "version")
	cmd.SysProcAttr = SysProcAttr()
	require.NoError(t, cmd.Run())

	require.ErrorIs(t, Terminate(cmd.Process), os.ErrProcessDone)
}
