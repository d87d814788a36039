package api

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"tasktracker/internal/consts"
)

func TestDecompressRequestsUnpacksGzipBody(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(`{"status":"completed"}`)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	e := echo.New()
	var got string
	handler := decompressRequests()(func(c echo.Context) error {
		b, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		got = string(b)
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPatch, "/", &buf)
	req.Header.Set(echo.HeaderContentEncoding, "br, gzip")
	rec := httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got != `{"status":"completed"}` {
		t.Fatalf("unexpected body %q", got)
	}
	if req.Header.Get(echo.HeaderContentEncoding) != "" {
		t.Fatalf("content encoding header not cleared")
	}
}

func TestDecompressRequestsRejectsInvalidPayload(t *testing.T) {
	e := echo.New()
	handler := decompressRequests()(func(c echo.Context) error {
		t.Fatal("handler must not run")
		return nil
	})
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("plain"))
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	err := handler(e.NewContext(req, httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 HTTPError, got %v", err)
	}
}

func TestDecompressRequestsPassesHandlerErrorsThrough(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(`{}`))
	_ = zw.Close()

	e := echo.New()
	failed := errors.New("store unavailable")
	handler := decompressRequests()(func(c echo.Context) error { return failed })
	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	if err := handler(e.NewContext(req, httptest.NewRecorder())); err != failed {
		t.Fatalf("expected the handler error, got %v", err)
	}

	plain := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	var ran bool
	handler = decompressRequests()(func(c echo.Context) error {
		ran = true
		return nil
	})
	if err := handler(e.NewContext(plain, httptest.NewRecorder())); err != nil || !ran {
		t.Fatalf("uncompressed request not passed through: %v", err)
	}
}

func TestNewEchoSetsRequestID(t *testing.T) {
	e := NewEcho()
	e.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if id := rec.Header().Get(consts.HeaderRequestID); len(id) != 36 {
		t.Fatalf("expected uuid request id, got %q", id)
	}
}
