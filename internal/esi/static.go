package esi

import (
	"context"
	"sync"
)

// StaticClient is an in-memory TypeClient for tests and offline runs.
type StaticClient struct {
	mu    sync.Mutex
	types map[int32]TypeInfo
	calls map[int32]int
	err   error
}

// NewStaticClient returns a StaticClient serving the given types.
func NewStaticClient(types ...TypeInfo) *StaticClient {
	c := &StaticClient{
		types: make(map[int32]TypeInfo, len(types)),
		calls: make(map[int32]int),
	}
	for _, t := range types {
		c.types[t.TypeID] = t
	}
	return c
}

// FailWith makes every subsequent GetType return err.
func (c *StaticClient) FailWith(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *StaticClient) GetType(ctx context.Context, typeID int32) (*TypeInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[typeID]++
	if c.err != nil {
		return nil, c.err
	}
	t, ok := c.types[typeID]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

// Calls reports how many times typeID was requested.
func (c *StaticClient) Calls(typeID int32) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[typeID]
}
