package volume

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	utilexec "k8s.io/utils/exec"
	testingexec "k8s.io/utils/exec/testing"
)

// scriptedExec returns a FakeExec whose commands produce outputs in order and
// records each invocation's argv
func scriptedExec(argv *[][]string, outputs ...testingexec.FakeAction) *testingexec.FakeExec {
	fexec := &testingexec.FakeExec{}
	for _, output := range outputs {
		fcmd := &testingexec.FakeCmd{OutputScript: []testingexec.FakeAction{output}}
		fexec.CommandScript = append(fexec.CommandScript, func(cmd string, args ...string) utilexec.Cmd {
			*argv = append(*argv, append([]string{cmd}, args...))
			return testingexec.InitFakeCmd(fcmd, cmd, args...)
		})
	}
	return fexec
}

func output(s string) testingexec.FakeAction {
	return func() ([]byte, []byte, error) { return []byte(s), nil, nil }
}

func TestCLIBackend_GetVolume(t *testing.T) {
	var argv [][]string
	fexec := scriptedExec(&argv, output(`{"id":"v1","attachments":[{"hosts":["hostA","hostB"],"mountpoint":"/dev/vda"}]}`))

	vol, err := NewCLIBackend(fexec, "", time.Second).GetVolume(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, []string{"hostA", "hostB"}, vol.AttachmentSet().Hosts)
	assert.Equal(t, [][]string{{DefaultCLIBinary, "volume", "show", "v1", "--format", "json"}}, argv)
}

func TestCLIBackend_GetVolumeMalformed(t *testing.T) {
	var argv [][]string
	fexec := scriptedExec(&argv, output(`garbage`))

	_, err := NewCLIBackend(fexec, "", 0).GetVolume(context.Background(), "v1")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestCLIBackend_AttachAndDetach(t *testing.T) {
	var argv [][]string
	fexec := scriptedExec(&argv,
		output(`{"attachments":[{"hosts":["local"],"mountpoint":"/dev/vdc"}]}`),
		output(``),
		output(``),
	)
	backend := NewCLIBackend(fexec, "/usr/bin/volctl", 0)
	ctx := context.Background()

	attachments, err := backend.AttachToHost(ctx, "v1", "local")
	require.NoError(t, err)
	require.Len(t, attachments, 1)
	assert.Equal(t, "/dev/vdc", attachments[0].Mountpoint)

	require.NoError(t, backend.DetachFromHost(ctx, "v1", "hostA", false))
	require.NoError(t, backend.DetachFromHost(ctx, "v1", "hostB", true))

	assert.Equal(t, [][]string{
		{"/usr/bin/volctl", "volume", "attach", "v1", "--host", "local", "--format", "json"},
		{"/usr/bin/volctl", "volume", "detach", "v1", "--host", "hostA"},
		{"/usr/bin/volctl", "volume", "detach", "v1", "--host", "hostB", "--force"},
	}, argv)
}

func TestCLIBackend_CommandFailure(t *testing.T) {
	var argv [][]string
	fexec := scriptedExec(&argv, func() ([]byte, []byte, error) {
		return nil, []byte("host not responding"), &testingexec.FakeExitError{Status: 3}
	})

	err := NewCLIBackend(fexec, "", 0).DetachFromHost(context.Background(), "v1", "hostA", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with status 3")
}
