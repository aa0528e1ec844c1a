package fiber

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"inciwatch.com/session/alert"
	"inciwatch.com/session/auth"
)

// Handlers exposes the session module over HTTP for dashboard shells
// that embed it as a sidecar rather than linking it directly.
type Handlers struct {
	Coordinator *auth.Coordinator
	Legacy      *auth.LegacyClient
	Scheduler   *auth.RefreshScheduler
	Poller      *alert.Poller
}

// Register mounts the session endpoints under /session.
func (h *Handlers) Register(app fiber.Router) {
	group := app.Group("/session")
	group.Post("/login", h.login)
	group.Post("/logout", h.logout)
	group.Get("/profile", h.profile)
	group.Post("/wake", h.wake)
	group.Get("/alert", h.alertState)
	group.Post("/alert/dismiss", h.alertDismiss)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handlers) login(c *fiber.Ctx) error {
	var body loginRequest
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if body.Email == "" || body.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "email and password are required",
		})
	}

	if err := h.Coordinator.Login(c.Context(), body.Email, body.Password); err != nil {
		var authErr *auth.AuthError
		if errors.As(err, &authErr) {
			status := authErr.Code
			if status < 400 || status > 599 {
				status = fiber.StatusBadGateway
			}
			return c.Status(status).JSON(authErr)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "login failed",
		})
	}

	if h.Scheduler != nil {
		h.Scheduler.Start()
	}
	profile := h.Coordinator.CurrentUserProfile(c.Context(), true)
	return c.JSON(fiber.Map{"profile": profile})
}

func (h *Handlers) logout(c *fiber.Ctx) error {
	h.Coordinator.Logout()
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) profile(c *fiber.Ctx) error {
	force := c.QueryBool("force")
	profile := h.Coordinator.CurrentUserProfile(c.Context(), force)
	if profile == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "no active session",
		})
	}
	return c.JSON(profile)
}

// wake is the activity hint: the embedding shell calls it when its
// window regains focus so a token that expired while dormant is renewed
// promptly.
func (h *Handlers) wake(c *fiber.Ctx) error {
	if h.Scheduler != nil {
		h.Scheduler.Wake()
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) alertState(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"visible": h.Poller.Visible(),
	})
}

func (h *Handlers) alertDismiss(c *fiber.Ctx) error {
	h.Poller.Dismiss()
	return c.SendStatus(fiber.StatusNoContent)
}

// RequireSession guards embedding-app routes: without a valid legacy
// token the request is rejected before reaching the handler. The token
// is placed in locals for handlers that forward it.
func RequireSession(legacy *auth.LegacyClient) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := legacy.ValidToken()
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "no active session",
			})
		}
		c.Locals("session_token", token)
		return c.Next()
	}
}

// SessionToken extracts the token stored by RequireSession.
func SessionToken(c *fiber.Ctx) string {
	token, _ := c.Locals("session_token").(string)
	return token
}
