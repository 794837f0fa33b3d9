//go:build !windows

package proc_test

import (
	"context"
	"io"
	"testing"

	"github.com/nwillc/goproc/proc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainIterator(t *testing.T, it *proc.Iterator) map[proc.Channel][]byte {
	t.Helper()
	got := map[proc.Channel][]byte{}
	for {
		ok, err := it.Valid()
		require.NoError(t, err)
		if !ok {
			return got
		}
		got[it.Key()] = append(got[it.Key()], it.Current()...)
		it.Next()
	}
}

func newSplitOutputConfig() *proc.Config {
	return proc.New(proc.WithArgs("sh", "-c", "echo out-line; echo err-line 1>&2"))
}

func TestIteratorWithNoFiltersSeesBothChannels(t *testing.T) {
	sup := proc.NewSupervisor(newSplitOutputConfig())
	it := proc.NewIterator(sup, 0)

	got := drainIterator(t, it)
	assert.Equal(t, "out-line\n", string(got[proc.ChannelOut]))
	assert.Equal(t, "err-line\n", string(got[proc.ChannelErr]))
}

func TestIteratorWithSkipErrSeesOnlyStdout(t *testing.T) {
	sup := proc.NewSupervisor(newSplitOutputConfig())
	it := proc.NewIterator(sup, proc.IterSkipErr)

	got := drainIterator(t, it)
	assert.Equal(t, "out-line\n", string(got[proc.ChannelOut]))
	_, sawErr := got[proc.ChannelErr]
	assert.False(t, sawErr)
}

func TestIteratorWithSkipOutSeesOnlyStderr(t *testing.T) {
	sup := proc.NewSupervisor(newSplitOutputConfig())
	it := proc.NewIterator(sup, proc.IterSkipOut)

	got := drainIterator(t, it)
	assert.Equal(t, "err-line\n", string(got[proc.ChannelErr]))
	_, sawOut := got[proc.ChannelOut]
	assert.False(t, sawOut)
}

func TestSupervisorAsReaderSkipsItsOwnStderr(t *testing.T) {
	cfg := proc.New(proc.WithArgs("sh", "-c", "echo visible; echo hidden 1>&2"))
	sup := proc.NewSupervisor(cfg)
	require.NoError(t, sup.Start(context.Background()))

	got, err := io.ReadAll(sup.AsReader())
	require.NoError(t, err)
	assert.Equal(t, "visible\n", string(got))
}

func TestChainPipesOneStageIntoTheNext(t *testing.T) {
	upstream := proc.New(proc.WithArgs("sh", "-c", "echo hello"))
	downstream := proc.New(proc.WithArgs("tr", "a-z", "A-Z"))

	pipeline, err := proc.Chain(context.Background(), upstream, downstream)
	require.NoError(t, err)

	require.NoError(t, pipeline.Wait())

	out, err := pipeline.Last().Output().Get(proc.ChannelOut)
	require.NoError(t, err)
	assert.Equal(t, "HELLO\n", string(out))
}

func TestFuncSourceFeedsASupervisorsStdin(t *testing.T) {
	reader := proc.FuncSource(func(ctx context.Context, w io.Writer) error {
		_, err := w.Write([]byte("from a func source"))
		return err
	})

	src, err := proc.NewInputSourceFrom(reader)
	require.NoError(t, err)

	cfg := proc.New(proc.WithArgs("cat"), proc.WithInput(src))
	sup := proc.NewSupervisor(cfg)
	require.NoError(t, sup.Start(context.Background()))
	require.NoError(t, sup.Wait(nil))

	out, err := sup.Output().Get(proc.ChannelOut)
	require.NoError(t, err)
	assert.Equal(t, "from a func source", string(out))
}
