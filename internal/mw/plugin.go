package mw

import "net/http"

// Plugin is a named middleware installed at startup.
type Plugin struct {
	Name     string
	Settings any
	Wrap     func(http.Handler) http.Handler
}

// Chain collects plugins in registration order. The first plugin registered
// is the outermost wrapper.
type Chain struct {
	plugins []Plugin
}

func (c *Chain) Use(p Plugin) *Chain {
	if p.Wrap != nil {
		c.plugins = append(c.plugins, p)
	}
	return c
}

func (c *Chain) Then(h http.Handler) http.Handler {
	for i := len(c.plugins) - 1; i >= 0; i-- {
		h = c.plugins[i].Wrap(h)
	}
	return h
}

// Installed lists the plugins in registration order.
func (c *Chain) Installed() []Plugin {
	out := make([]Plugin, len(c.plugins))
	copy(out, c.plugins)
	return out
}
