// Package handlers implements the REST and WebSocket endpoints the web
// chat UI talks to.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// chatID tolerates both JSON strings and numbers, since the UI submits
// whichever it happens to hold.
type chatID string

func (c *chatID) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*c = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = chatID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = chatID(n.String())
	return nil
}

func (c chatID) String() string {
	return string(c)
}

func (c chatID) Int64() (int64, error) {
	return strconv.ParseInt(string(c), 10, 64)
}

func okResponse(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func errorResponse(c echo.Context, code int, err error) error {
	return c.JSON(code, map[string]string{"status": "error", "error": err.Error()})
}

func errorMessage(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"status": "error", "error": msg})
}
