package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"lawchat-gateway/internal/provider"
	"lawchat-gateway/internal/reconcile"
	"lawchat-gateway/internal/router"
)

const (
	codeRegionRestricted    = "region_restricted"
	codeUpstreamUnavailable = "upstream_unavailable"
	codeTruncated           = "response_truncated"
	codeEmptyAnswer         = "empty_answer"

	hintRegionRestricted = "The AI provider is not available in the server's region. Route traffic through a supported region or configure another provider."
	hintUpstream         = "The AI provider is temporarily unavailable. Try again shortly."
	hintTruncated        = "The answer exceeded the output limit. Shorten the question or turn off thinking."
	hintEmptyAnswer      = "No answer was produced. Rephrase the question; the content may have been filtered."
)

type requestError struct {
	Status  int
	Message string
	Details string
	Code    string
	Hint    string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Code    string `json:"code,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func writeError(c echo.Context, e requestError) error {
	return c.JSON(e.Status, errorBody{
		Error:   e.Message,
		Details: e.Details,
		Code:    e.Code,
		Hint:    e.Hint,
	})
}

func envelopeErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr)
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		_ = writeError(c, requestError{Status: he.Code, Message: msg})
		return
	}

	_ = writeError(c, toHTTPError(err))
}

// toHTTPError maps the answer pipeline's error taxonomy onto the response envelope.
func toHTTPError(err error) requestError {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	if errors.Is(err, router.ErrRegionRestricted) || provider.IsRegionRestricted(err) {
		return requestError{
			Status:  http.StatusServiceUnavailable,
			Message: "AI provider is not available in this region",
			Details: err.Error(),
			Code:    codeRegionRestricted,
			Hint:    hintRegionRestricted,
		}
	}

	var truncated *reconcile.TruncatedResponse
	if errors.As(err, &truncated) {
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "answer was truncated",
			Details: err.Error(),
			Code:    codeTruncated,
			Hint:    hintTruncated,
		}
	}

	if errors.Is(err, reconcile.ErrEmptyAnswer) {
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "AI provider returned an empty answer",
			Code:    codeEmptyAnswer,
			Hint:    hintEmptyAnswer,
		}
	}

	var (
		dual    *reconcile.DualUpstreamFailure
		cascade *router.CascadeError
	)
	if provider.IsUpstream(err) || errors.As(err, &dual) || errors.As(err, &cascade) || errors.Is(err, context.DeadlineExceeded) {
		return requestError{
			Status:  http.StatusServiceUnavailable,
			Message: "AI provider is unavailable",
			Details: err.Error(),
			Code:    codeUpstreamUnavailable,
			Hint:    hintUpstream,
		}
	}

	slog.Error("unhandled request error", "err", err)
	return requestError{
		Status:  http.StatusInternalServerError,
		Message: "internal server error",
	}
}
