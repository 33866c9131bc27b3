package http

import (
	"errors"
	"net/http"

	"github.com/GriffinCanCode/rhost/internal/debugger"
	"github.com/GriffinCanCode/rhost/internal/debugger/property"
	"github.com/GriffinCanCode/rhost/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/rhost/internal/pool"
	"github.com/GriffinCanCode/rhost/internal/session"
	"github.com/GriffinCanCode/rhost/internal/transport"
	"github.com/gin-gonic/gin"
)

// errUnknownSession is returned for a GUID the provider has never seen
var errUnknownSession = errors.New("unknown session")

// errNoFrame is returned when a frame index is not part of the current stop
var errNoFrame = errors.New("no such frame")

// statusFor maps the host error taxonomy onto HTTP status codes
func statusFor(err error) int {
	var (
		startup *session.StartupError
		interp  *session.InterpreterError
		setErr  *property.SetValueError
		perr    *transport.ProtocolError
	)
	switch {
	case errors.Is(err, errUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, errNoFrame):
		return http.StatusBadRequest
	case errors.As(err, &interp), errors.As(err, &setErr), errors.Is(err, property.ErrNotSettable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, debugger.ErrFrameInvalidated):
		return http.StatusGone
	case errors.Is(err, debugger.ErrNotStopped), errors.Is(err, debugger.ErrDetached),
		errors.Is(err, session.ErrNotRunning), errors.Is(err, session.ErrStarting),
		errors.Is(err, session.ErrTerminated):
		return http.StatusConflict
	case errors.Is(err, session.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrCancelled):
		return http.StatusRequestTimeout
	case errors.As(err, &startup):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrDisconnected), errors.Is(err, resilience.ErrOpen),
		errors.Is(err, resilience.ErrTrialInFlight), errors.Is(err, pool.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &perr) && perr.Code == transport.CodeBadRequest:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondError writes err with its mapped status
func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
