package router

import "github.com/gofiber/fiber/v2"

// ServerRouter mounts a route set on an app. Admin and proxy servers each take a list.
type ServerRouter interface {
	BuildRoutes(app *fiber.App) error
}
