package v1

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	derrors "github.com/hrygo/dualstore/internal/errors"
	"github.com/hrygo/dualstore/store"
)

const matchParamPrefix = "match."

// ListRecordsResponse is the body of a list call.
type ListRecordsResponse struct {
	Records []*store.Record `json:"records"`
}

// GetRecord returns one record.
// GET /api/v1/records/:kind/:id
func (s *APIV1Service) GetRecord(c echo.Context) error {
	kind, err := parseKind(c)
	if err != nil {
		return writeError(c, err)
	}

	fetched, err := s.Backend.Get(c.Request().Context(), kind, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}

	c.Response().Header().Set(HeaderCacheSource, string(fetched.Source))
	if fetched.Degraded() {
		c.Response().Header().Set("Warning", staleWarning)
	}
	return c.JSON(http.StatusOK, fetched.Record)
}

// ListRecords returns the records of a kind whose payload matches every match.<field>
// query parameter.
// GET /api/v1/records/:kind?match.<field>=<value>&limit=&offset=
func (s *APIV1Service) ListRecords(c echo.Context) error {
	kind, err := parseKind(c)
	if err != nil {
		return writeError(c, err)
	}

	find := &store.FindRecord{Kind: kind}
	for name, values := range c.QueryParams() {
		field, ok := strings.CutPrefix(name, matchParamPrefix)
		if !ok || len(values) == 0 {
			continue
		}
		if find.Match == nil {
			find.Match = make(map[string]string)
		}
		find.Match[field] = values[0]
	}
	if find.Limit, err = intParam(c, "limit"); err != nil {
		return writeError(c, err)
	}
	if find.Offset, err = intParam(c, "offset"); err != nil {
		return writeError(c, err)
	}

	list, err := s.Backend.Find(c.Request().Context(), find)
	if err != nil {
		return writeError(c, err)
	}
	if list == nil {
		list = []*store.Record{}
	}
	return c.JSON(http.StatusOK, ListRecordsResponse{Records: list})
}

// UpsertRecord creates or replaces a record; the request body is the JSON payload.
// PUT /api/v1/records/:kind/:id
func (s *APIV1Service) UpsertRecord(c echo.Context) error {
	kind, err := parseKind(c)
	if err != nil {
		return writeError(c, err)
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Response(), c.Request().Body, maxPayloadBytes))
	if err != nil {
		return writeError(c, derrors.InvalidArgument("failed to read request body: "+err.Error()))
	}

	record, err := s.Backend.Upsert(c.Request().Context(), &store.UpsertRecord{
		Kind:    kind,
		ID:      c.Param("id"),
		Payload: json.RawMessage(body),
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, record)
}

// DeleteRecord removes a record.
// DELETE /api/v1/records/:kind/:id
func (s *APIV1Service) DeleteRecord(c echo.Context) error {
	kind, err := parseKind(c)
	if err != nil {
		return writeError(c, err)
	}

	if err := s.Backend.Delete(c.Request().Context(), &store.DeleteRecord{Kind: kind, ID: c.Param("id")}); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func parseKind(c echo.Context) (store.Kind, error) {
	kind, err := store.ParseKind(c.Param("kind"))
	if err != nil {
		return "", derrors.InvalidArgument(err.Error())
	}
	return kind, nil
}

func intParam(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, derrors.InvalidArgument("invalid " + name + " parameter " + strconv.Quote(raw))
	}
	return v, nil
}
