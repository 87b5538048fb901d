package util

import (
	"bytes"
	"fmt"
	"runtime/debug"
	"sync"
)

// Group coalesces concurrent calls that share a key: while one call for a key
// is in flight, later callers wait for it and receive the same result.
type Group[V any] struct {
	mu    sync.Mutex // protects calls
	calls map[string]*call[V]
}

type call[V any] struct {
	wg sync.WaitGroup

	// written once before wg is done, read only after
	val V
	err error

	// guarded by Group.mu until wg is done
	dups int
}

// Do runs fn once per in-flight key. shared reports whether the result went
// to more than one caller. A panic in fn is re-raised in every waiting caller.
func (g *Group[V]) Do(key string, fn func() (V, error)) (v V, err error, shared bool) {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[string]*call[V])
	}
	if c, ok := g.calls[key]; ok {
		c.dups++
		g.mu.Unlock()
		c.wg.Wait()

		if p, ok := c.err.(*PanicError); ok {
			panic(p)
		}
		return c.val, c.err, true
	}
	c := new(call[V])
	c.wg.Add(1)
	g.calls[key] = c
	g.mu.Unlock()

	g.doCall(c, key, fn)
	if p, ok := c.err.(*PanicError); ok {
		panic(p)
	}
	return c.val, c.err, c.dups > 0
}

func (g *Group[V]) doCall(c *call[V], key string, fn func() (V, error)) {
	defer func() {
		if r := recover(); r != nil {
			c.err = newPanicError(r)
		}
		g.mu.Lock()
		if g.calls[key] == c {
			delete(g.calls, key)
		}
		g.mu.Unlock()
		c.wg.Done()
	}()

	c.val, c.err = fn()
}

// Forget drops the in-flight entry for key so the next Do starts a new call.
func (g *Group[V]) Forget(key string) {
	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()
}

// PanicError carries a panic recovered from fn along with its stack.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func newPanicError(v interface{}) *PanicError {
	stack := debug.Stack()
	// The goroutine header line is stale by the time the panic reaches Do.
	if line := bytes.IndexByte(stack, '\n'); line >= 0 {
		stack = stack[line+1:]
	}
	return &PanicError{Value: v, Stack: stack}
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("%v\n\n%s", p.Value, p.Stack)
}

func (p *PanicError) Unwrap() error {
	err, _ := p.Value.(error)
	return err
}
