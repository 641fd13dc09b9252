package infra

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChanPool_BlocksWhenFullAndFreesOnRelease(t *testing.T) {
	p := NewChanPool(1)

	release, ok := p.Acquire(context.Background())
	require.True(t, ok)
	assert.EqualValues(t, 1, p.InUse())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, ok = p.Acquire(ctx)
	assert.False(t, ok, "expected second acquire to time out")

	release()
	release() // segunda chamada não pode devolver vaga a mais
	assert.EqualValues(t, 0, p.InUse())

	release2, ok := p.Acquire(context.Background())
	require.True(t, ok)
	release2()
	assert.Equal(t, 1, p.Cap())
}
