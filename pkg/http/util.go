package http

import (
	"github.com/labstack/echo/v4"

	xutil "FinPilot/pkg/util"
)

// QueryInt reads an integer query parameter, falling back to def.
func QueryInt(c echo.Context, name string, def int) int {
	return xutil.ParseIntDefault(c.QueryParam(name), def)
}

// QueryBool reads a boolean query parameter, falling back to def.
func QueryBool(c echo.Context, name string, def bool) bool {
	return xutil.ParseBoolDefault(c.QueryParam(name), def)
}
