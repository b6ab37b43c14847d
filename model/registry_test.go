package model

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleLoadsExactlyOnce(t *testing.T) {
	var loads atomic.Int32
	h := handle[int]{load: func(ctx context.Context) (*int, error) {
		loads.Add(1)
		time.Sleep(10 * time.Millisecond)
		v := 42
		return &v, nil
	}}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := h.get(context.Background())
			assert.NoError(t, err)
			if assert.NotNil(t, v) {
				assert.Equal(t, 42, *v)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	assert.True(t, h.ready())
}

func TestHandleRetriesAfterFailedLoad(t *testing.T) {
	calls := 0
	h := handle[int]{load: func(ctx context.Context) (*int, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("boom")
		}
		v := 7
		return &v, nil
	}}

	_, err := h.get(context.Background())
	require.Error(t, err)
	assert.False(t, h.ready())

	v, err := h.get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, *v)
	assert.Equal(t, 2, calls)
	assert.True(t, h.ready())
}

func TestLoadErrorWrapsCause(t *testing.T) {
	cause := errors.New("no such file")
	err := &LoadError{Name: "captioning", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "captioning")
}
