package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/neuhoffm/firecms/internal/datasource"
	"github.com/neuhoffm/firecms/internal/editor"
	"github.com/neuhoffm/firecms/internal/logger"
	"github.com/neuhoffm/firecms/internal/persistence"
	"github.com/neuhoffm/firecms/internal/refdialog"
	"github.com/neuhoffm/firecms/internal/reference"
	"github.com/neuhoffm/firecms/internal/schema"
	"github.com/neuhoffm/firecms/internal/storage"
	"github.com/neuhoffm/firecms/internal/table"
	"github.com/neuhoffm/firecms/internal/tree"
)

var errForbidden = errors.New("operation is not permitted")

// statusForErrors: конфликт уникальности — 409, прочие ошибки полей — 400.
func statusForErrors(errs []schema.FieldError) int {
	for _, e := range errs {
		if e.Code == schema.ErrUniqueViolation {
			return http.StatusConflict
		}
	}
	return http.StatusBadRequest
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, datasource.ErrNotFound),
		errors.Is(err, persistence.ErrSchemaNotFound),
		errors.Is(err, reference.ErrUnknownCatalog),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, table.ErrUnknownRow):
		return http.StatusNotFound
	case errors.Is(err, errForbidden),
		errors.Is(err, table.ErrNotEditable),
		errors.Is(err, table.ErrNotDeletable),
		errors.Is(err, table.ErrExportDisabled):
		return http.StatusForbidden
	case errors.Is(err, datasource.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, tree.ErrBuilderImmovable),
		errors.Is(err, tree.ErrNoIndex),
		errors.Is(err, tree.ErrNotMap),
		errors.Is(err, tree.ErrUnknownItem),
		errors.Is(err, tree.ErrCycle),
		errors.Is(err, tree.ErrKeyConflict),
		errors.Is(err, table.ErrUnknownColumn),
		errors.Is(err, refdialog.ErrNotSelectable),
		errors.Is(err, storage.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, editor.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

// writeError — единая точка ответа об ошибке.
func writeError(c *gin.Context, err error) {
	if errs, ok := schema.FieldErrors(err); ok {
		c.JSON(statusForErrors(errs), gin.H{"errors": errs})
		return
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.From(c.Request.Context()).Error("request failed",
			"method", c.Request.Method, "path", c.FullPath(), "err", err)
	}
	body := gin.H{"error": http.StatusText(status), "details": err.Error()}
	if isMoveError(err) {
		body["code"] = schema.ErrInvalidMove
	}
	c.JSON(status, body)
}

func isMoveError(err error) bool {
	for _, target := range []error{tree.ErrBuilderImmovable, tree.ErrNoIndex, tree.ErrNotMap, tree.ErrUnknownItem, tree.ErrCycle, tree.ErrKeyConflict} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
