package errs

import "net/http"

// HTTPStatus maps err onto the status the api layer answers with.
func HTTPStatus(err error) int {
	ce := Code(err)
	if ce == nil {
		return http.StatusInternalServerError
	}
	switch ce.Code {
	case ArgsError, InvalidOperationError:
		return http.StatusBadRequest
	case NoPermissionError:
		return http.StatusForbidden
	case RecordNotFoundError:
		return http.StatusNotFound
	case StateError, ConflictError:
		return http.StatusConflict
	case TimeoutError:
		return http.StatusGatewayTimeout
	case TokenExpiredError, TokenInvalidError:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
