package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/i474232898/air-quality-mirror/internal/airquality"
)

var validate = validator.New()

// Deps are the collaborators the HTTP API reads from.
type Deps struct {
	Repo *airquality.Repository
	// IndexWorkers bounds the parallel fetches of one /indexes request.
	IndexWorkers int
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	h := &handlers{repo: deps.Repo, workers: deps.IndexWorkers}

	app.Get("/health", h.health)
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics))
	}

	v1 := app.Group("/api/v1")
	v1.Get("/stations", h.stations)
	v1.Get("/stations/:id/meta", h.stationMeta)
	v1.Get("/stations/:id/sensors", h.sensors)
	v1.Get("/stations/:id/index", h.stationIndex)
	v1.Get("/stations/:id/indexes", h.stationIndexes)
	v1.Get("/indexes", h.indexes)
	v1.Get("/sensors/:id/data", h.sensorData)
}

// ErrorHandler renders every error as {"error": true, "message": ...}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// toHTTPError maps domain errors onto status codes.
func toHTTPError(err error) error {
	var remoteErr *airquality.RemoteError
	switch {
	case errors.Is(err, airquality.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, airquality.ErrNoData):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case errors.As(err, &remoteErr), errors.Is(err, airquality.ErrMalformedResponse):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}

type handlers struct {
	repo    *airquality.Repository
	workers int
}

func (h *handlers) health(c *fiber.Ctx) error {
	status := "ok"
	if !h.repo.Health().Healthy() {
		status = "degraded"
	}
	return c.JSON(fiber.Map{
		"status":        status,
		"remoteHealthy": h.repo.Health().Healthy(),
		"service":       "air-quality-mirror",
	})
}

func (h *handlers) stations(c *fiber.Ctx) error {
	stations, err := h.repo.GetStationList(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(stations)
}

func (h *handlers) stationMeta(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	meta, err := h.repo.GetStationMeta(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(meta)
}

func (h *handlers) sensors(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	sensors, err := h.repo.GetSensorList(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(sensors)
}

// quantityQuery selects the index quantity.
type quantityQuery struct {
	Quantity string `validate:"oneof=OVERALL NO2 O3 PM10 PM2.5 SO2"`
}

func parseQuantity(c *fiber.Ctx) (string, error) {
	q := quantityQuery{Quantity: strings.ToUpper(c.Query("quantity", airquality.OverallQuantity))}
	if err := validate.Struct(q); err != nil {
		return "", fiber.NewError(fiber.StatusBadRequest, "invalid quantity; use one of "+strings.Join(airquality.IndexQuantities, ", "))
	}
	return q.Quantity, nil
}

func (h *handlers) stationIndex(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	quantity, err := parseQuantity(c)
	if err != nil {
		return err
	}
	idx, err := h.repo.GetAQIndexValue(c.UserContext(), id, quantity)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(idx)
}

func (h *handlers) stationIndexes(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	indexes, err := h.repo.GetAQIndexes(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(indexes)
}

// indexesQuery holds query parameters for the batch index endpoint.
type indexesQuery struct {
	Stations []int64 `validate:"required,min=1,max=100,dive,gt=0"`
}

type indexResult struct {
	airquality.IndexResult
	Error string `json:"error,omitempty"`
}

func (h *handlers) indexes(c *fiber.Ctx) error {
	var q indexesQuery
	for _, raw := range c.Context().QueryArgs().PeekMulti("station") {
		id, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid station id "+strconv.Quote(string(raw)))
		}
		q.Stations = append(q.Stations, id)
	}
	if err := validate.Struct(q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	quantity, err := parseQuantity(c)
	if err != nil {
		return err
	}

	reqs := make([]airquality.IndexRequest, 0, len(q.Stations))
	for _, id := range q.Stations {
		reqs = append(reqs, airquality.IndexRequest{StationID: id, Quantity: quantity})
	}

	// Each request gets its own pool so concurrent callers do not cancel
	// each other's batches.
	pool := airquality.NewIndexPool(h.repo, h.workers, nil)
	_, results := pool.Fetch(c.UserContext(), reqs)
	out := make([]indexResult, 0, len(reqs))
	for res := range results {
		r := indexResult{IndexResult: res}
		if res.Err != nil {
			r.Error = res.Err.Error()
		}
		out = append(out, r)
	}
	return c.JSON(fiber.Map{
		"quantity": quantity,
		"results":  out,
	})
}

// seriesQuery holds query parameters for the sensor data endpoint.
type seriesQuery struct {
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (q *seriesQuery) bind(c *fiber.Ctx, now time.Time) error {
	fromStr := c.Query("from")
	if fromStr == "" {
		return errors.New("from query parameter is required")
	}
	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	q.From = from

	q.To = now
	if toStr := c.Query("to"); toStr != "" {
		if q.To, err = parseTime(toStr); err != nil {
			return err
		}
	}
	return nil
}

func (h *handlers) sensorData(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	var req seriesQuery
	if err := req.bind(c, h.repo.Policy().Now().UTC()); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	points, err := h.repo.GetSeries(c.UserContext(), id, req.From, req.To)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(fiber.Map{
		"sensorId": id,
		"from":     req.From,
		"to":       req.To,
		"points":   points,
	})
}

func pathID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid id "+strconv.Quote(c.Params("id")))
	}
	return id, nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
