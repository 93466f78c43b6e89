package http

import (
	"errors"
	"net/http"

	domainwf "github.com/garyjia/workflow-engine/internal/domain/workflow"
)

// errorStatus maps engine errors to HTTP status codes. Anything without a
// business code is an infrastructure failure.
func errorStatus(err error) int {
	var e *domainwf.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}

	if e.Code == domainwf.CodeNotFound {
		return http.StatusNotFound
	}
	switch e.Category {
	case domainwf.CategoryState:
		return http.StatusConflict
	case domainwf.CategoryConfiguration:
		return http.StatusUnprocessableEntity
	case domainwf.CategoryRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
