package scim

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// SCIM error types as defined in RFC 7644
const (
	ScimTypeInvalidFilter = "invalidFilter"
	ScimTypeInvalidPath   = "invalidPath"
	ScimTypeInvalidSyntax = "invalidSyntax"
	ScimTypeInvalidValue  = "invalidValue"
	ScimTypeInvalidVers   = "invalidVers"
	ScimTypeMutability    = "mutability"
	ScimTypeNoTarget      = "noTarget"
	ScimTypeSensitive     = "sensitive"
	ScimTypeTooMany       = "tooMany"
	ScimTypeUniqueness    = "uniqueness"
)

// ConflictSuffix is the error-name convention connectors use to signal a
// duplicate key: any error whose message ends in "#409" maps to Conflict.
const ConflictSuffix = "#409"

// SCIMError represents a protocol-formatted error
type SCIMError struct {
	Status   int
	Detail   string
	ScimType string
}

// Error implements the error interface
func (e *SCIMError) Error() string {
	return e.Detail
}

// NewSCIMError creates a new SCIM error
func NewSCIMError(status int, detail, scimType string) *SCIMError {
	return &SCIMError{
		Status:   status,
		Detail:   detail,
		ScimType: scimType,
	}
}

// Common SCIM errors
var (
	ErrInvalidFilter = func(detail string) *SCIMError {
		return NewSCIMError(http.StatusBadRequest, detail, ScimTypeInvalidFilter)
	}

	ErrInvalidPath = func(detail string) *SCIMError {
		return NewSCIMError(http.StatusBadRequest, detail, ScimTypeInvalidPath)
	}

	ErrInvalidSyntax = func(detail string) *SCIMError {
		return NewSCIMError(http.StatusBadRequest, detail, ScimTypeInvalidSyntax)
	}

	ErrInvalidValue = func(detail string) *SCIMError {
		return NewSCIMError(http.StatusBadRequest, detail, ScimTypeInvalidValue)
	}

	ErrInvalidVersion = func(detail string) *SCIMError {
		return NewSCIMError(http.StatusPreconditionFailed, detail, ScimTypeInvalidVers)
	}

	ErrMutability = func(detail string) *SCIMError {
		return NewSCIMError(http.StatusBadRequest, detail, ScimTypeMutability)
	}

	ErrNoTarget = func(detail string) *SCIMError {
		return NewSCIMError(http.StatusBadRequest, detail, ScimTypeNoTarget)
	}

	ErrSensitive = func(detail string) *SCIMError {
		return NewSCIMError(http.StatusBadRequest, detail, ScimTypeSensitive)
	}

	ErrTooMany = func(detail string) *SCIMError {
		return NewSCIMError(http.StatusRequestEntityTooLarge, detail, ScimTypeTooMany)
	}

	ErrUniqueness = func(detail string) *SCIMError {
		return NewSCIMError(http.StatusConflict, detail, ScimTypeUniqueness)
	}

	ErrNotFound = func(resourceType, id string) *SCIMError {
		return NewSCIMError(http.StatusNotFound, fmt.Sprintf("%s %s not found", resourceType, id), "")
	}

	ErrForbidden = func(detail string) *SCIMError {
		return NewSCIMError(http.StatusForbidden, detail, "")
	}

	ErrConflict = func(detail string) *SCIMError {
		return NewSCIMError(http.StatusConflict, detail, "")
	}

	ErrInternalServer = func(detail string) *SCIMError {
		return NewSCIMError(http.StatusInternalServerError, detail, "")
	}

	ErrNotImplemented = func(feature string) *SCIMError {
		return NewSCIMError(http.StatusNotImplemented, fmt.Sprintf("%s not implemented", feature), "")
	}
)

// WrapConnectorError wraps a connector failure with the originating action
// and converts it to a protocol error. A *SCIMError passes through with the
// action prefixed to its detail; the "#409" name suffix maps to Conflict;
// anything else becomes a 500.
func WrapConnectorError(action string, err error) *SCIMError {
	var scimErr *SCIMError
	if errors.As(err, &scimErr) {
		return NewSCIMError(scimErr.Status, action+": "+scimErr.Detail, scimErr.ScimType)
	}
	detail := action + ": " + err.Error()
	if strings.HasSuffix(strings.TrimSpace(err.Error()), ConflictSuffix) {
		return NewSCIMError(http.StatusConflict, strings.TrimSuffix(detail, ConflictSuffix), ScimTypeUniqueness)
	}
	return NewSCIMError(http.StatusInternalServerError, detail, "")
}
