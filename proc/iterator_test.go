package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIteratorFlagStackNestsAndRestores(t *testing.T) {
	it := NewIterator(nil, IterSkipErr)
	assert.Equal(t, IterSkipErr, it.flags)

	it.SetIterFlags(IterSkipOut)
	assert.Equal(t, IterSkipOut, it.flags)

	it.SetIterFlags(IterNonBlocking | IterSkipOut)
	assert.Equal(t, IterNonBlocking|IterSkipOut, it.flags)

	it.RestoreIterFlags()
	assert.Equal(t, IterSkipOut, it.flags)

	it.RestoreIterFlags()
	assert.Equal(t, IterSkipErr, it.flags)

	it.RestoreIterFlags() // empty stack, no-op
	assert.Equal(t, IterSkipErr, it.flags)
}

func TestIteratorRewindResetsOffsetsAndCache(t *testing.T) {
	it := NewIterator(nil, 0)
	it.cache = []iterChunk{{channel: ChannelOut, data: []byte("x")}}
	it.outOffset = 10
	it.errOffset = 5

	it.Rewind()

	assert.Nil(t, it.cache)
	assert.Zero(t, it.outOffset)
	assert.Zero(t, it.errOffset)
}

func TestIteratorCurrentAndKeyBeforeValidAreEmpty(t *testing.T) {
	it := NewIterator(nil, 0)
	assert.Nil(t, it.Current())
	assert.Equal(t, Channel(""), it.Key())
}

func TestIteratorNextDropsFirstCachedChunk(t *testing.T) {
	it := NewIterator(nil, 0)
	it.cache = []iterChunk{
		{channel: ChannelOut, data: []byte("a")},
		{channel: ChannelErr, data: []byte("b")},
	}
	it.Next()
	assert.Equal(t, Channel(ChannelErr), it.Key())
	assert.Equal(t, []byte("b"), it.Current())
}
