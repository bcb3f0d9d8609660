package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/Telluride/internal/api/response"
	"github.com/hbomb79/Telluride/internal/extract"
	"github.com/hbomb79/Telluride/internal/options"
	"github.com/hbomb79/Telluride/pkg/logger"
	"github.com/hbomb79/Telluride/pkg/worker"
	"github.com/labstack/echo/v4"
	"github.com/mitchellh/mapstructure"
)

const (
	PongMessage     = "pong"
	ShutdownMessage = "Shutting down"
	UsageMessage    = "Telluride is running. Use ?url=<page URL> to query metadata, or ?shutdown=1 to stop the server"
)

var (
	log      = logger.Get("QueryController")
	validate = validator.New()
)

type (
	Extractor interface {
		ExtractMetadata(ctx context.Context, pageURL string, opts options.DownloadOptions) (json.RawMessage, error)
	}

	// Executor runs tasks on behalf of the controller, bounding how
	// many metadata extractions may be in flight at once.
	Executor interface {
		Submit(ctx context.Context, task worker.Task) error
	}

	// Params are the query parameters recognised on the root route. Only
	// the first value of each parameter is considered.
	Params struct {
		URL      *string `mapstructure:"url"`
		Shutdown *string `mapstructure:"shutdown"`
	}

	// Controller is the struct which is responsible for defining the
	// routes of the local HTTP surface, and dispatching accepted requests
	// to either the shutdown signal or the extractor.
	Controller struct {
		build      string
		extractor  Extractor
		executor   Executor
		defaults   options.Defaults
		onShutdown func()
	}

	extraction struct {
		metadata json.RawMessage
		err      error
	}
)

func New(build string, extractor Extractor, executor Executor, defaults options.Defaults, onShutdown func()) *Controller {
	return &Controller{build, extractor, executor, defaults, onShutdown}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.query)
	eg.GET("/ping", controller.ping)
}

func (controller *Controller) ping(ec echo.Context) error {
	return ec.JSON(http.StatusOK, response.NewMessage(controller.build, PongMessage))
}

// query dispatches on the query parameters of the request. A shutdown
// request takes precedence over a metadata query, and if neither is
// present a usage message is returned.
func (controller *Controller) query(ec echo.Context) error {
	params, err := DecodeParams(ec.QueryParams())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed query parameters").SetInternal(err)
	}

	switch {
	case params.ShutdownRequested():
		return controller.shutdown(ec)
	case params.URL != nil:
		return controller.extract(ec, *params.URL)
	default:
		return ec.JSON(http.StatusOK, response.NewMessage(controller.build, UsageMessage))
	}
}

// shutdown writes and flushes the response before raising the shutdown
// signal, so the client always receives an answer.
func (controller *Controller) shutdown(ec echo.Context) error {
	if err := ec.JSON(http.StatusOK, response.NewMessage(controller.build, ShutdownMessage)); err != nil {
		return err
	}

	ec.Response().Flush()
	log.Emit(logger.STOP, "Shutdown requested by %s\n", ec.Request().RemoteAddr)
	controller.onShutdown()

	return nil
}

func (controller *Controller) extract(ec echo.Context, pageURL string) error {
	if err := validate.Var(pageURL, "required,url"); err != nil {
		return response.APIError{
			Status:  http.StatusBadRequest,
			Code:    response.CodeInvalidURL,
			Message: fmt.Sprintf("%q is not a valid page URL", pageURL),
		}
	}

	ctx := ec.Request().Context()
	pageURL = options.NormalizePageURL(pageURL)
	opts := options.MetadataOptions(controller.defaults)

	result := make(chan extraction, 1)
	task := func() {
		defer func() {
			if r := recover(); r != nil {
				result <- extraction{err: fmt.Errorf("extractor panic: %v", r)}
			}
		}()

		metadata, err := controller.extractor.ExtractMetadata(ctx, pageURL, opts)
		result <- extraction{metadata, err}
	}

	if err := controller.executor.Submit(ctx, task); err != nil {
		return submitError(err)
	}

	select {
	case res := <-result:
		if res.err != nil {
			log.Warnf("Metadata extraction for %s failed: %v\n", pageURL, res.err)
			return extractionError(res.err)
		}

		return ec.JSONBlob(http.StatusOK, res.metadata)
	case <-ctx.Done():
		return submitError(ctx.Err())
	}
}

// DecodeParams decodes the first value of each query parameter
// in to a Params struct. Unrecognised parameters are ignored.
func DecodeParams(values url.Values) (Params, error) {
	raw := make(map[string]string, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			raw[key] = vals[0]
		}
	}

	var params Params
	if err := mapstructure.Decode(raw, &params); err != nil {
		return Params{}, err
	}

	return params, nil
}

// ShutdownRequested returns true if the shutdown parameter is "1" or
// (case-insensitively) "true".
func (params Params) ShutdownRequested() bool {
	if params.Shutdown == nil {
		return false
	}

	value := strings.TrimSpace(*params.Shutdown)
	return value == "1" || strings.EqualFold(value, "true")
}

func extractionError(err error) response.APIError {
	apiErr := response.APIError{InternalMessage: err.Error(), Message: err.Error()}

	var extractErr *extract.Error
	if errors.As(err, &extractErr) {
		apiErr.Message = extractErr.Message
	}

	code := extract.CodeOf(err)
	apiErr.Code = string(code)
	switch code {
	case extract.INVALID_URL:
		apiErr.Status = http.StatusBadRequest
	case extract.UNSUPPORTED_URL:
		apiErr.Status = http.StatusUnprocessableEntity
	case extract.TIMEOUT:
		apiErr.Status = http.StatusGatewayTimeout
	default:
		apiErr.Status = http.StatusBadGateway
	}

	return apiErr
}

func submitError(err error) response.APIError {
	if errors.Is(err, worker.ErrPoolClosed) || errors.Is(err, worker.ErrPoolNotStarted) {
		return response.APIError{
			Status:  http.StatusServiceUnavailable,
			Code:    response.CodeUnavailable,
			Message: "Server is shutting down",
		}
	}

	return response.APIError{
		Status:          http.StatusServiceUnavailable,
		Code:            response.CodeBusy,
		Message:         "No extraction worker became available",
		InternalMessage: err.Error(),
	}
}
