package ctrl

import "github.com/auricle-dev/auricle/ctrltypes"

// Factory helpers returning *ctrltypes.ApiError (single canonical error type).
func ErrBadRequest(detail string) *ctrltypes.ApiError {
	return &ctrltypes.ApiError{Status: 400, Title: "Bad Request", Detail: detail}
}
func ErrNotFound(detail string) *ctrltypes.ApiError {
	return &ctrltypes.ApiError{Status: 404, Title: "Not Found", Detail: detail}
}
func ErrConflict(detail string) *ctrltypes.ApiError {
	return &ctrltypes.ApiError{Status: 409, Title: "Conflict", Detail: detail}
}
func ErrUnauthorized(detail string) *ctrltypes.ApiError {
	return &ctrltypes.ApiError{Status: 401, Title: "Unauthorized", Detail: detail}
}
func ErrInternal(detail string) *ctrltypes.ApiError {
	return &ctrltypes.ApiError{Status: 500, Title: "Internal Server Error", Detail: detail}
}

// WrapError normalizes any error into *ctrltypes.ApiError.
func WrapError(err error) *ctrltypes.ApiError {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*ctrltypes.ApiError); ok {
		return ae
	}
	if ae, ok := err.(ctrltypes.ApiError); ok {
		return &ae
	}
	// Default wrap as internal error
	return ErrInternal(err.Error())
}
