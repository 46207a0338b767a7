package protocol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type ctxKey struct{}

func TestCombineContext(t *testing.T) {
	parent := context.WithValue(context.Background(), ctxKey{}, "v")
	other, cancelOther := context.WithCancel(context.Background())

	combined, cancel := CombineContext(parent, other)
	defer cancel()

	assert.Equal(t, "v", combined.Value(ctxKey{}))
	assert.NoError(t, combined.Err())

	cancelOther()
	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context not cancelled by second parent")
	}
}

func TestCleanupContext(t *testing.T) {
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "v"))
	cancel()

	ctx, stop := CleanupContext(parent, time.Minute)
	defer stop()

	assert.NoError(t, ctx.Err(), "cleanup context must outlive a cancelled parent")
	assert.Equal(t, "v", ctx.Value(ctxKey{}))
	deadline, ok := ctx.Deadline()
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
}
