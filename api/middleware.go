package api

import (
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"tasktracker/internal/consts"
)

// NewEcho returns an echo instance with the serializer and middleware stack
// shared by the server binary and handler tests.
func NewEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = SonicSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator:    uuid.NewString,
		TargetHeader: consts.HeaderRequestID,
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderContentEncoding, consts.HeaderIdempotencyKey},
	}))
	e.Use(decompressRequests())
	return e
}

// SonicSerializer encodes echo responses with sonic in encoding/json
// compatible mode.
type SonicSerializer struct{}

func (SonicSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (SonicSerializer) Deserialize(c echo.Context, i any) error {
	err := sonic.ConfigStd.NewDecoder(c.Request().Body).Decode(i)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body").SetInternal(err)
	}
	return nil
}

// decompressRequests unpacks gzip request bodies with echo's Decompress.
// A Content-Encoding list that names gzip is narrowed to gzip first, and a
// corrupt stream is answered with 400 instead of reaching the handler.
func decompressRequests() echo.MiddlewareFunc {
	decompress := middleware.Decompress()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		unpacked := decompress(func(c echo.Context) error {
			req := c.Request()
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			req.ContentLength = -1
			return next(c)
		})
		return func(c echo.Context) error {
			req := c.Request()
			if !namesGzip(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}
			req.Header.Set(echo.HeaderContentEncoding, middleware.GZIPEncoding)
			err := unpacked(c)
			// the header is still set only when the handler never ran
			if err != nil && req.Header.Get(echo.HeaderContentEncoding) != "" {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body").SetInternal(err)
			}
			return err
		}
	}
}

func namesGzip(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), middleware.GZIPEncoding) {
			return true
		}
	}
	return false
}
