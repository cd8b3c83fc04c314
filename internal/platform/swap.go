package platform

import "sync/atomic"

// Handle is the process-global holder of the platform client. Refresh
// swaps the client by compare-and-swap so that concurrent refreshers
// cannot leak instances: the losing candidate is closed, never
// installed.
type Handle struct {
	current atomic.Pointer[clientBox]
	factory func() (Client, error)
}

type clientBox struct {
	client Client
}

// NewHandle wraps an initial client. factory builds replacements on
// Refresh and may be nil, in which case Refresh keeps the current
// client.
func NewHandle(client Client, factory func() (Client, error)) *Handle {
	h := &Handle{factory: factory}
	h.current.Store(&clientBox{client: client})
	return h
}

// Client returns the current client.
func (h *Handle) Client() Client {
	return h.current.Load().client
}

// Refresh builds a replacement client and installs it if the handle
// still holds the instance the caller observed. On a lost race the
// fresh candidate is closed and the winner's client is returned.
func (h *Handle) Refresh() (Client, error) {
	old := h.current.Load()
	if h.factory == nil {
		return old.client, nil
	}
	fresh, err := h.factory()
	if err != nil {
		return nil, err
	}
	if h.current.CompareAndSwap(old, &clientBox{client: fresh}) {
		old.client.Close()
		return fresh, nil
	}
	fresh.Close()
	return h.current.Load().client, nil
}

// Close closes the current client.
func (h *Handle) Close() error {
	return h.current.Load().client.Close()
}
