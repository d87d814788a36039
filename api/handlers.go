package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasktracker/domain"
	"tasktracker/internal/consts"
)

const (
	maxBodySize        = 64 << 10
	defaultUpdatesBack = 10 * time.Second

	msgTaskCreated      = "Task created successfully!"
	msgTasksRetrieved   = "Tasks retrieved successfully"
	msgStatusUpdated    = "Task status updated successfully"
	msgUpdatesRetrieved = "Updates retrieved successfully"
	msgTaskNotFound     = "Task not found."
	msgDuplicateRequest = "This request has already been processed."
	msgServerError      = "Server Error"
)

type messageResponse struct {
	Message string `json:"message"`
}

type dataResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type validationResponse struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

type pageDataResponse struct {
	Categories []domain.Category `json:"categories"`
	Priorities []domain.Priority `json:"priorities"`
}

type updatesResponse struct {
	Message         string                `json:"message"`
	Updates         []domain.Notification `json:"updates"`
	Timestamp       int64                 `json:"timestamp"`
	BroadcastDriver string                `json:"broadcast_driver"`
}

type createTaskRequest struct {
	Title       looseText `json:"title"`
	Description looseText `json:"description"`
	DueDate     looseText `json:"due_date"`
	CategoryID  refID     `json:"category_id"`
	PriorityID  refID     `json:"priority_id"`
}

type updateStatusRequest struct {
	Status looseText `json:"status"`
}

// Register wires up all routes on the provided Echo instance.
func Register(e *echo.Echo, svc TaskService, refs References, opts Options, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	e.GET("/tasks", getTaskPage(refs))
	e.GET("/api/tasks", listTasks(svc, logger))
	e.POST("/api/tasks", createTask(svc, opts.Deduper, logger))
	e.PATCH("/api/tasks/:id/status", updateStatus(svc))
	e.GET("/api/tasks/updates", getUpdates(svc, opts.BroadcastDriver, logger))
	if opts.Stream != nil {
		e.GET("/api/tasks/stream", streamTasks(opts.Stream, opts.Heartbeat, logger))
	}
	e.GET("/healthz", healthz(opts.Health))
}

func healthz(health Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if health == nil {
			return c.NoContent(http.StatusOK)
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := health.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, messageResponse{Message: err.Error()})
		}
		return c.NoContent(http.StatusOK)
	}
}

func getTaskPage(refs References) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		cats, err := refs.Categories(ctx)
		if err != nil {
			return serverError(c, err)
		}
		pris, err := refs.Priorities(ctx)
		if err != nil {
			return serverError(c, err)
		}
		return c.JSON(http.StatusOK, pageDataResponse{Categories: cats, Priorities: pris})
	}
}

func listTasks(svc TaskService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, spanCtx := newTaskRequestMetrics(c.Request().Context(), logger)
		c.SetRequest(c.Request().WithContext(spanCtx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		search := strings.TrimSpace(c.QueryParam("search"))
		page := parsePage(c.QueryParam("page"))
		metrics.SetSearchProvided(search != "")
		metrics.SetPage(page)

		fetchStart := time.Now()
		result, fetchErr := svc.List(spanCtx, search, page)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			err = serverError(c, fetchErr)
			return err
		}
		metrics.SetItemsReturned(len(result.Data))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, dataResponse{Message: msgTasksRetrieved, Data: result})
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

// parsePage resolves missing, malformed and non-positive values to page 1.
func parsePage(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func createTask(svc TaskService, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, messageResponse{Message: "invalid body"})
		}

		key := strings.TrimSpace(c.Request().Header.Get(consts.HeaderIdempotencyKey))
		recorded := false
		if deduper != nil && key != "" {
			added, err := deduper.Add(ctx, key)
			switch {
			case err != nil:
				logger.WithError(err).WithField("key", key).Warn("idempotency check unavailable, processing request")
			case !added:
				return writeError(c, domain.ErrDuplicateRequest)
			default:
				recorded = true
			}
		}

		task, err := svc.Create(ctx, domain.NewTask{
			Title:       string(req.Title),
			Description: string(req.Description),
			DueDate:     string(req.DueDate),
			CategoryID:  int64(req.CategoryID),
			PriorityID:  int64(req.PriorityID),
		})
		if err != nil {
			if recorded {
				if rerr := deduper.Remove(context.WithoutCancel(ctx), key); rerr != nil {
					logger.Errorf("dedupe rollback failed, err: %v, key: %s", rerr, key)
				}
			}
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, dataResponse{Message: msgTaskCreated, Data: task})
	}
}

func updateStatus(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			return writeError(c, domain.ErrNotFound)
		}
		var req updateStatusRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, messageResponse{Message: "invalid body"})
		}
		task, err := svc.UpdateStatus(c.Request().Context(), id, string(req.Status))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, dataResponse{Message: msgStatusUpdated, Data: task})
	}
}

func getUpdates(svc TaskService, driver string, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, spanCtx := newUpdatesRequestMetrics(c.Request().Context(), logger)
		c.SetRequest(c.Request().WithContext(spanCtx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		now := time.Now()
		since := now.Add(-defaultUpdatesBack).Truncate(time.Second)
		if raw := strings.TrimSpace(c.QueryParam("last_check")); raw != "" {
			if secs, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
				since = time.Unix(secs, 0)
			}
		}

		fetchStart := time.Now()
		updates := svc.RecentUpdates(spanCtx, since)
		metrics.ObserveFetch(time.Since(fetchStart))
		metrics.SetItemsReturned(len(updates))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, updatesResponse{
			Message:         msgUpdatesRetrieved,
			Updates:         updates,
			Timestamp:       now.Unix(),
			BroadcastDriver: driver,
		})
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

// decodeBody reads a JSON object. An empty body decodes to the zero value so
// missing fields surface as validation errors.
func decodeBody(c echo.Context, dst any) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return sonic.ConfigStd.Unmarshal(body, dst)
}

func writeError(c echo.Context, err error) error {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusUnprocessableEntity, validationResponse{Message: verr.Error(), Errors: verr.Fields})
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, messageResponse{Message: msgTaskNotFound})
	case errors.Is(err, domain.ErrDuplicateRequest):
		return c.JSON(http.StatusConflict, messageResponse{Message: msgDuplicateRequest})
	default:
		return serverError(c, err)
	}
}

func serverError(c echo.Context, err error) error {
	log.WithError(err).WithField("path", c.Path()).Error("request failed")
	return c.JSON(http.StatusInternalServerError, messageResponse{Message: msgServerError})
}
