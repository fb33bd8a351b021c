package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/xerrors"
)

const (
	On5xx            = "5xx"
	OnGatewayError   = "gateway-error"
	OnConnectFailure = "connect-failure"
	OnRetriable4xx   = "retriable-4xx"
)

// On decides which responses and transport errors are worth another attempt.
// The condition names follow Envoy's x-envoy-retry-on header.
type On struct {
	_5xx           bool
	gatewayError   bool
	connectFailure bool
	retriable4xx   bool
	statusCodes    []int
}

func DefaultOn() *On {
	return &On{
		gatewayError:   true,
		connectFailure: true,
		retriable4xx:   true,
	}
}

// ParseOn reads a comma separated list of condition names and status codes,
// e.g. "gateway-error,connect-failure,429".
func ParseOn(s string) (*On, error) {
	o := &On{}
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		switch field {
		case "":
		case On5xx:
			o._5xx = true
		case OnGatewayError:
			o.gatewayError = true
		case OnConnectFailure:
			o.connectFailure = true
		case OnRetriable4xx:
			o.retriable4xx = true
		default:
			statusCode, err := strconv.Atoi(field)
			if err != nil || statusCode < 100 || statusCode > 599 {
				return nil, xerrors.Errorf("invalid retry condition: %q", field)
			}
			o.statusCodes = append(o.statusCodes, statusCode)
		}
	}
	return o, nil
}

// https://github.com/envoyproxy/envoy/blob/70d6ec1df6384118cf2fa2f02c0041edb76b2377/source/common/router/retry_state_impl.cc#L387
func (o *On) CheckResponse(response *http.Response) bool {
	switch {
	case o._5xx && response.StatusCode >= 500 && response.StatusCode < 600:
		return true
	case o.gatewayError && response.StatusCode >= 502 && response.StatusCode < 505:
		return true
	case o.retriable4xx && response.StatusCode == http.StatusConflict:
		return true
	}
	return slices.Contains(o.statusCodes, response.StatusCode)
}

func (o *On) CheckError(err error) bool {
	if !o.connectFailure && !o._5xx {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	type temporary interface{ Temporary() bool }
	var terr temporary
	if errors.As(err, &terr) && terr.Temporary() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET)
}
