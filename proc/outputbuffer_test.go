package proc

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputBufferAddAndGet(t *testing.T) {
	b := NewOutputBuffer(false)
	require.NoError(t, b.Add(ChannelOut, []byte("hello ")))
	require.NoError(t, b.Add(ChannelOut, []byte("world")))
	require.NoError(t, b.Add(ChannelErr, []byte("oops")))

	out, err := b.Get(ChannelOut)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(out))

	errOut, err := b.Get(ChannelErr)
	require.NoError(t, err)
	assert.Equal(t, "oops", string(errOut))
}

func TestOutputBufferDisabledRejectsEverything(t *testing.T) {
	b := NewOutputBuffer(true)
	require.Error(t, b.Add(ChannelOut, []byte("x")))
	_, err := b.Get(ChannelOut)
	require.Error(t, err)
}

func TestOutputBufferSpillsToDiskPastThreshold(t *testing.T) {
	b := NewOutputBuffer(false)
	chunk := bytes.Repeat([]byte("x"), outputSpillThreshold/4)

	for i := 0; i < 6; i++ {
		require.NoError(t, b.Add(ChannelOut, chunk))
	}

	assert.NotNil(t, b.out.spill, "buffer should have spilled to a temp file by now")

	got, err := b.Get(ChannelOut)
	require.NoError(t, err)
	assert.Equal(t, len(chunk)*6, len(got))

	b.Close()
}

func TestOutputBufferReadAtTracksPerConsumerOffset(t *testing.T) {
	b := NewOutputBuffer(false)
	require.NoError(t, b.Add(ChannelOut, []byte("0123456789")))

	buf := make([]byte, 4)
	n, err := b.readAt(ChannelOut, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(buf[:n]))

	n, err = b.readAt(ChannelOut, int64(n), buf)
	require.NoError(t, err)
	assert.Equal(t, "4567", string(buf[:n]))

	n, err = b.readAt(ChannelOut, 10, buf)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 0, n)
}

func TestOutputBufferGetStreamIsASnapshot(t *testing.T) {
	b := NewOutputBuffer(false)
	require.NoError(t, b.Add(ChannelOut, []byte("before")))

	rc, err := b.GetStream(ChannelOut)
	require.NoError(t, err)

	require.NoError(t, b.Add(ChannelOut, []byte("after")))

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "before", string(got))
	require.NoError(t, rc.Close())
}

func TestOutputBufferClearResetsChannel(t *testing.T) {
	b := NewOutputBuffer(false)
	require.NoError(t, b.Add(ChannelOut, []byte("data")))
	require.NoError(t, b.Clear(ChannelOut))

	got, err := b.Get(ChannelOut)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOutputBufferLastOutputTimeAdvances(t *testing.T) {
	b := NewOutputBuffer(false)
	first := b.LastOutputTime()
	require.NoError(t, b.Add(ChannelOut, []byte("x")))
	assert.False(t, b.LastOutputTime().Before(first))
}
