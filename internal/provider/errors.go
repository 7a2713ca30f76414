package provider

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const maxErrorBodyBytes = 64 * 1024

// UpstreamError is a network or HTTP failure calling a provider.
type UpstreamError struct {
	Provider string
	// Status is zero when the request never produced an HTTP response.
	Status  int
	RawBody string
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s request failed: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.Status, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// TransportError wraps a failure that happened before any HTTP response arrived.
func TransportError(providerName string, err error) error {
	return &UpstreamError{
		Provider: providerName,
		Message:  err.Error(),
		Err:      err,
	}
}

// ParseAPIError reads a non-success response and builds an UpstreamError. The
// provider's structured error message is used when the body carries one.
func ParseAPIError(providerName string, resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return &UpstreamError{
			Provider: providerName,
			Status:   resp.StatusCode,
			Message:  fmt.Sprintf("failed to read error body: %v", err),
			Err:      err,
		}
	}

	raw := strings.TrimSpace(string(body))
	msg := raw
	if m := structuredMessage(body); m != "" {
		msg = m
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	return &UpstreamError{
		Provider: providerName,
		Status:   resp.StatusCode,
		RawBody:  raw,
		Message:  msg,
	}
}

func structuredMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range []string{"error.message", "0.error.message", "message"} {
		if m := gjson.GetBytes(body, path); m.Type == gjson.String && m.String() != "" {
			return m.String()
		}
	}
	return ""
}

var regionMarkers = []string{
	"user location is not supported",
	"location is not supported for the api use",
	"not available in your country",
	"unsupported_country_region_territory",
}

// IsRegionRestricted reports whether err stems from the provider refusing the caller's
// location. Such failures are not worth retrying.
func IsRegionRestricted(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range regionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsUpstream reports whether err is, or wraps, an UpstreamError.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
