package middleware

import "github.com/gofiber/fiber/v2"

// Middleware builds one stage of a fiber chain.
type Middleware interface {
	Middleware() fiber.Handler
}

// Transport is an ordered chain; handlers run in registration order.
type Transport struct {
	Middlewares []Middleware
}

func NewTransport(middlewares ...Middleware) *Transport {
	return &Transport{
		Middlewares: middlewares,
	}
}

// GetMiddlewares returns the chain in the form fiber's Use accepts.
func (t *Transport) GetMiddlewares() []interface{} {
	handlers := make([]interface{}, 0, len(t.Middlewares))
	for _, m := range t.Middlewares {
		if m == nil {
			continue
		}
		handlers = append(handlers, m.Middleware())
	}
	return handlers
}

func (t *Transport) RegisterMiddleware(middleware Middleware) {
	t.Middlewares = append(t.Middlewares, middleware)
}
