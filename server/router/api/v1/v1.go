package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	derrors "github.com/hrygo/dualstore/internal/errors"
	"github.com/hrygo/dualstore/internal/profile"
	"github.com/hrygo/dualstore/server/internal/observability"
	"github.com/hrygo/dualstore/store/backend"
)

const (
	// HeaderCacheSource tells clients where a record was read from (store, cache or stale).
	HeaderCacheSource = "X-Cache-Source"
	// staleWarning is the RFC 7234 warning attached to degraded reads.
	staleWarning = `110 - "Response is Stale"`

	maxPayloadBytes = 1 << 20
)

// APIV1Service serves the record API. It only depends on the backend capability set, so it
// behaves the same whichever backend the process selected.
type APIV1Service struct {
	Profile *profile.Profile
	Backend backend.Backend
}

func NewAPIV1Service(profile *profile.Profile, backend backend.Backend) *APIV1Service {
	return &APIV1Service{
		Profile: profile,
		Backend: backend,
	}
}

// RegisterRoutes registers the health check and record routes on the given Echo instance.
func (s *APIV1Service) RegisterRoutes(echoServer *echo.Echo) {
	echoServer.GET("/healthz", s.GetHealth)

	records := echoServer.Group("/api/v1/records")
	records.GET("/:kind", s.ListRecords)
	records.GET("/:kind/:id", s.GetRecord)
	records.PUT("/:kind/:id", s.UpsertRecord)
	records.DELETE("/:kind/:id", s.DeleteRecord)
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

// statusForCode maps a coded error to its HTTP status.
func statusForCode(code derrors.ErrorCode) int {
	switch code {
	case derrors.CodeNotFound:
		return http.StatusNotFound
	case derrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case derrors.CodeBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as JSON. Unavailable backends are logged on the request logger;
// client errors are not.
func writeError(c echo.Context, err error) error {
	e, ok := derrors.As(err)
	if !ok {
		if reqCtx, found := observability.FromContext(c.Request().Context()); found {
			reqCtx.Error("unexpected error", err)
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "INTERNAL", Message: "internal error"})
	}

	status := statusForCode(e.Code)
	if status >= http.StatusInternalServerError {
		if reqCtx, found := observability.FromContext(c.Request().Context()); found {
			reqCtx.Warn("backend call failed")
		}
		if e.Code == derrors.CodeBackendUnavailable {
			c.Response().Header().Set("Retry-After", "1")
		}
	}
	return c.JSON(status, ErrorResponse{
		Code:    string(e.Code),
		Reason:  string(e.Reason),
		Message: e.Message,
	})
}
