package proc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidateRequiresACommand(t *testing.T) {
	c := New()
	err := c.validate()
	require.Error(t, err)
	var invalid *InvalidArgumentError
	assert.ErrorAs(t, err, &invalid)
}

func TestConfigValidateRejectsBothCommandForms(t *testing.T) {
	c := New(WithArgs("echo", "hi"), WithTemplate("echo hi"))
	err := c.validate()
	require.Error(t, err)
}

func TestConfigValidateRejectsIdleTimeoutWithOutputDisabled(t *testing.T) {
	c := New(WithArgs("echo"), WithMode(ModeOutputDisabled), WithIdleTimeout(time.Second))
	err := c.validate()
	require.Error(t, err)
}

func TestConfigValidateAcceptsOutputDisabledWithoutIdleTimeout(t *testing.T) {
	c := New(WithArgs("echo"), WithMode(ModeOutputDisabled))
	assert.NoError(t, c.validate())
}

func TestConfigCloneCopiesArgsAndEnvButResetsInput(t *testing.T) {
	src := New(WithArgs("echo", "hi"), WithEnv("A", "1"))
	require.NoError(t, src.Input.Write("queued"))

	clone := src.Clone()
	clone.Args[0] = "changed"
	clone.Env[0].Value = "changed"

	assert.Equal(t, "echo", src.Args[0], "clone must not alias the original Args slice")
	assert.Equal(t, "1", src.Env[0].Value, "clone must not alias the original Env slice")
	assert.NotSame(t, src.Input, clone.Input)
	assert.False(t, clone.Input.atEnd(), "a cloned Config gets a fresh, open InputSource")
}

func TestWithEnvAbsentUsesSentinelValue(t *testing.T) {
	c := New(WithArgs("echo"), WithEnvAbsent("SECRET"))
	require.Len(t, c.Env, 1)
	assert.Equal(t, EnvAbsent, c.Env[0].Value)
}

func TestModeStringMatchesDocumentedNames(t *testing.T) {
	assert.Equal(t, "piped", ModePiped.String())
	assert.Equal(t, "tty", ModeTTY.String())
	assert.Equal(t, "pty", ModePTY.String())
	assert.Equal(t, "output_disabled", ModeOutputDisabled.String())
}
