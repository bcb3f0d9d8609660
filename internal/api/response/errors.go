package response

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hbomb79/Telluride/pkg/logger"
	"github.com/labstack/echo/v4"
)

type (
	// Message is the body of every non-metadata response. Code is
	// only present when the response describes a failure.
	Message struct {
		Build   string `json:"build"`
		Message string `json:"message"`
		Code    string `json:"code,omitempty"`
	}

	APIError struct {
		// Human readable error display message
		Message string `json:"message"`

		// A machine readable and stable identifier for the error case being represented
		Code string `json:"code"`

		// Used to alter the HTTP response status in accordance with the error
		Status int `json:"-"`

		// Additional message for internal logging only. Will not be included in the message
		// sent to the user.
		InternalMessage string `json:"-"`
	}
)

// Error satisifies the Go error interface and simply exposes the
// message contained by this APIError.
func (err APIError) Error() string {
	return fmt.Sprintf("api error: %s", err.Message)
}

const (
	CodeRejected    = "REMOTE_REJECTED"
	CodeBusy        = "SERVER_BUSY"
	CodeInvalidURL  = "INVALID_URL"
	CodeNotFound    = "NOT_FOUND"
	CodeBadRequest  = "BAD_REQUEST"
	CodeUnavailable = "UNAVAILABLE"
)

var ErrAPIRejected APIError = APIError{
	Status:  http.StatusForbidden,
	Code:    CodeRejected,
	Message: "Requests are only accepted from the local machine",
}

// NewMessage constructs the envelope for a plain informational response.
func NewMessage(build string, message string) Message {
	return Message{Build: build, Message: message}
}

// GetHTTPErrorHandler returns an echo HTTP error handler which renders
// errors using the build-tagged envelope. APIErrors are rendered as-is,
// echo HTTPErrors (404, 405, etc) are converted, and anything else
// becomes an opaque 500.
func GetHTTPErrorHandler(build string) echo.HTTPErrorHandler {
	logger := logger.Get("API")
	return func(err error, ctx echo.Context) {
		if ctx.Response().Committed {
			logger.Warnf("Error %v raised after response to %s was committed\n", err, ctx.Request().RequestURI)
			return
		}

		apiErr := toAPIError(err)
		if apiErr.Status == 0 {
			apiErr.Status = http.StatusInternalServerError
		}
		if len(apiErr.Message) == 0 {
			apiErr.Message = http.StatusText(apiErr.Status)
		}
		if len(apiErr.Code) == 0 {
			apiErr.Code = http.StatusText(apiErr.Status)
		}
		if len(apiErr.InternalMessage) > 0 {
			logger.Errorf("Request failure, internal error: %s\n", apiErr.InternalMessage)
		}

		body := Message{Build: build, Message: apiErr.Message, Code: apiErr.Code}
		if err := ctx.JSON(apiErr.Status, body); err != nil {
			logger.Errorf("Failed to write error response for %s: %v\n", ctx.Request().RequestURI, err)
		}
	}
}

func toAPIError(err error) APIError {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		out := APIError{Status: httpErr.Code}
		switch httpErr.Code {
		case http.StatusNotFound:
			out.Code = CodeNotFound
		case http.StatusBadRequest:
			out.Code = CodeBadRequest
		}
		if msg, ok := httpErr.Message.(string); ok {
			out.Message = msg
		}
		if httpErr.Internal != nil {
			out.InternalMessage = httpErr.Internal.Error()
		}

		return out
	}

	return APIError{Status: http.StatusInternalServerError, InternalMessage: err.Error()}
}
