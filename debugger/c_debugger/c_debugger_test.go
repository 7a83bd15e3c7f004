package c_debugger

import (
	"testing"

	"github.com/fansqz/go-step-tracer/constants"
	"github.com/fansqz/go-step-tracer/debugger"
	"github.com/stretchr/testify/assert"
)

func TestNewCBackend(t *testing.T) {
	backend := NewCBackend(debugger.BackendOption{})
	assert.Equal(t, constants.LanguageC, backend.Language)
	assert.Equal(t, []string{DisableASLRCommand}, backend.LaunchArguments("/tmp/main")["initCommands"])
	assert.NotNil(t, backend.Compile)
}
