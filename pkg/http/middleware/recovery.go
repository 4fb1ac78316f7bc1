package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	applogger "GridWatch/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Recover turns a handler panic into a 500 response in the usual envelope.
func Recover(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				l.Error("panic in http handler",
					applogger.String("route", c.Path()),
					applogger.Any("panic", r),
					applogger.String("stack", string(debug.Stack())),
				)
				if c.Response().Committed {
					err = fmt.Errorf("panic after response was written: %v", r)
					return
				}
				err = c.JSON(http.StatusInternalServerError, map[string]interface{}{
					"status":  http.StatusInternalServerError,
					"message": http.StatusText(http.StatusInternalServerError),
				})
			}()
			return next(c)
		}
	}
}
