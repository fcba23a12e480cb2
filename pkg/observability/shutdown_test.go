package observability

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdownRunsFuncsInReverse(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), time.Second)

	var order []int
	sm.Register(func(context.Context) error { order = append(order, 1); return nil })
	sm.Register(func(context.Context) error { order = append(order, 2); return nil })
	sm.AddServer(&http.Server{Addr: "127.0.0.1:0"})

	assert.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, []int{2, 1}, order)
}

func TestShutdownCollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), 0)
	boom := errors.New("boom")
	sm.Register(func(context.Context) error { return boom })

	err := sm.Shutdown(context.Background())
	assert.ErrorIs(t, err, boom)
}
