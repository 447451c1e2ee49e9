package model

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/hupe1980/consultmesh/core"
)

// ClassifyStatus maps an HTTP status code onto a CallError. 408, 429 and 5xx
// are transient; every other failure status is permanent.
func ClassifyStatus(status int, err error) *core.CallError {
	var ce *core.CallError

	switch {
	case status == http.StatusTooManyRequests:
		ce = core.NewTransientError(core.ErrorKindRateLimited, err)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		ce = core.NewTransientError(core.ErrorKindTimeout, err)
	case status >= 500:
		ce = core.NewTransientError(core.ErrorKindServer, err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		ce = core.NewPermanentError(core.ErrorKindUnauthorized, err)
	case status >= 400:
		ce = core.NewPermanentError(core.ErrorKindInvalidRequest, err)
	default:
		ce = core.NewPermanentError(core.ErrorKindUnknown, err)
	}

	ce.StatusCode = status

	return ce
}

// ClassifyError maps a provider error without a status code onto a
// CallError. Network and deadline failures are transient, cancellation is
// permanent and anything unrecognized is permanent.
func ClassifyError(err error) *core.CallError {
	if err == nil {
		return nil
	}

	var ce *core.CallError
	if errors.As(err, &ce) {
		return ce
	}

	if errors.Is(err, context.Canceled) {
		return core.NewPermanentError(core.ErrorKindCanceled, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewTransientError(core.ErrorKindTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return core.NewTransientError(core.ErrorKindTimeout, err)
		}

		return core.NewTransientError(core.ErrorKindTransport, err)
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return core.NewTransientError(core.ErrorKindTransport, err)
	}

	return core.NewPermanentError(core.ErrorKindUnknown, err)
}
