package debugger

import (
	"context"
	"testing"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalEnv(t *testing.T) {
	base := []string{"PATH=/bin", "HOME=/root", "RUST_BACKTRACE=0", "BROKEN"}
	requested := map[string]interface{}{
		"HOME":           "/home/user",
		"PATH":           nil,
		"LANG":           "C",
		"RUST_BACKTRACE": "1",
	}
	env, err := terminalEnv(base, requested, map[string]string{"RUST_BACKTRACE": "full"})
	require.NoError(t, err)
	assert.Equal(t, []string{"HOME=/home/user", "LANG=C", "RUST_BACKTRACE=full"}, env)
}

func TestTerminalEnvNoOverrides(t *testing.T) {
	env, err := terminalEnv([]string{"B=2", "A=1"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"A=1", "B=2"}, env)

	_, err = terminalEnv(nil, []string{"not", "a", "map"}, nil)
	assert.Error(t, err)
}

func TestRunInTerminalHandler(t *testing.T) {
	registry := NewRegistry()
	handler := NewRunInTerminalHandler(registry, nil)

	_, err := handler(context.Background(), dap.RunInTerminalRequestArguments{})
	assert.Error(t, err)

	pid, err := handler(context.Background(), dap.RunInTerminalRequestArguments{
		Args: []string{"sleep", "30"},
		Cwd:  t.TempDir(),
	})
	require.NoError(t, err)
	assert.Positive(t, pid)
	assert.Equal(t, 1, registry.Len())
	assert.Equal(t, 1, registry.Drain())
}
