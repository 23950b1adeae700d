package bridge

import (
	"testing"

	"github.com/joeycumines/go-loopbridge/mainctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue() *stagingQueue {
	var q stagingQueue
	q.init()
	return &q
}

func TestStagingQueue_take(t *testing.T) {
	q := newTestQueue()
	assert.Nil(t, q.take())

	q.add(1, mainctx.IOIn)
	assert.False(t, q.modify(1, mainctx.IOOut))
	assert.True(t, q.modify(2, mainctx.IOIn))
	assert.True(t, q.remove(3))

	batch := q.take()
	require.NotNil(t, batch)
	assert.Equal(t, map[int]mainctx.IOCondition{1: mainctx.IOOut}, batch.add)
	assert.Equal(t, map[int]mainctx.IOCondition{2: mainctx.IOIn}, batch.update)
	assert.Equal(t, map[int]struct{}{3: {}}, batch.remove)

	assert.Nil(t, q.take())
}

func TestStagingQueue_addDropsStaleUpdate(t *testing.T) {
	q := newTestQueue()
	q.modify(1, mainctx.IOOut)
	q.add(1, mainctx.IOIn)
	batch := q.take()
	assert.Equal(t, map[int]mainctx.IOCondition{1: mainctx.IOIn}, batch.add)
	assert.Empty(t, batch.update)
}

func TestStagingQueue_removeCancelsAdd(t *testing.T) {
	q := newTestQueue()
	q.add(1, mainctx.IOIn)
	assert.False(t, q.remove(1))
	assert.Nil(t, q.take())
}

func TestStagingQueue_removeDropsUpdate(t *testing.T) {
	q := newTestQueue()
	q.modify(1, mainctx.IOIn)
	q.remove(1)
	batch := q.take()
	assert.Empty(t, batch.update)
	assert.Contains(t, batch.remove, 1)
}

func TestStagingQueue_terminate(t *testing.T) {
	q := newTestQueue()
	q.add(1, mainctx.IOIn)
	assert.False(t, q.isTerminating())
	assert.True(t, q.terminate())
	assert.True(t, q.isTerminating())
	assert.False(t, q.terminate())
	assert.Nil(t, q.take(), "staged changes are discarded")

	requireContract(t, "add", func() { q.add(2, mainctx.IOIn) })
	requireContract(t, "modify", func() { q.modify(2, mainctx.IOIn) })
	requireContract(t, "remove", func() { q.remove(2) })
}
