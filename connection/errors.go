package connection

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes of the errors returned by the Manager.
const (
	ErrorAlreadyRegistered = "CONNECTION_ALREADY_REGISTERED"
	ErrorNotRegistered     = "CONNECTION_NOT_REGISTERED"
	ErrorNotConnected      = "CONNECTION_NOT_CONNECTED"
	ErrorMasterUser        = "CONNECTION_MASTER_USER"
	ErrorStateInvalid      = "CONNECTION_STATE_INVALID"
	ErrorAuthorizeDenied   = "CONNECTION_AUTHORIZE_DENIED"
	ErrorRemoteFailure     = "CONNECTION_REMOTE_FAILURE"
	ErrorInternal          = "CONNECTION_INTERNAL_ERROR"
)

func connectionError(message string, category goerrors.Category, textCode string) error {
	return goerrors.New(message, category).
		WithCode(httpStatus(category)).
		WithTextCode(textCode)
}

func remoteError(source error, message string, metadata map[string]any) error {
	var err *goerrors.Error
	if source == nil {
		err = goerrors.New(message, goerrors.CategoryExternal)
	} else {
		err = goerrors.Wrap(source, goerrors.CategoryExternal, message)
	}
	err = err.WithCode(http.StatusBadGateway).WithTextCode(ErrorRemoteFailure)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func internalError(source error, message string) error {
	return goerrors.Wrap(source, goerrors.CategoryInternal, message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorInternal)
}

// TextCode returns the text code carried by err, or ErrorInternal when err
// is not a connection error.
func TextCode(err error) string {
	if err == nil {
		return ""
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.TextCode != "" {
		return richErr.TextCode
	}
	return ErrorInternal
}

// HasCode reports whether err carries the text code.
func HasCode(err error, textCode string) bool {
	return err != nil && TextCode(err) == textCode
}

func httpStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
