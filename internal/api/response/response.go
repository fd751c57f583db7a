package response

import (
	"github.com/labstack/echo/v4"
)

// APIResponse mirrors the huma envelope for the plain echo routes.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func Success(c echo.Context, status int, data any) error {
	return c.JSON(status, APIResponse{
		Success: true,
		Data:    data,
	})
}

func Error(c echo.Context, status int, message string) error {
	return c.JSON(status, APIResponse{
		Success: false,
		Error:   message,
	})
}
