/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/tollgate/tollgate/log"
)

// ContentTypeAppJSON represents MIME media type for JSON.
const ContentTypeAppJSON = "application/json"

// ErrorResponseData is the body of an error response.
type ErrorResponseData struct {
	Err *Error `json:"error"`
}

func (e *ErrorResponseData) Error() string {
	return fmt.Sprintf("HTTP error occurs: %v", e.Err)
}

// RespondJSON writes respData as JSON with 200 status code.
func RespondJSON(rw http.ResponseWriter, respData interface{}, logger log.FieldLogger) {
	RespondCodeAndJSON(rw, http.StatusOK, respData, logger)
}

// RespondCodeAndJSON writes respData as JSON with the status code.
// Content-Type is set to application/json unless the handler has already set it.
// Nil respData means an empty body. Logger may be nil.
func RespondCodeAndJSON(rw http.ResponseWriter, statusCode int, respData interface{}, logger log.FieldLogger) {
	if respData == nil {
		rw.WriteHeader(statusCode)
		return
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false) // Paths and patterns are returned as is.
	if err := enc.Encode(respData); err != nil {
		logError(logger, "failed to encode response body", err)
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}

	if rw.Header().Get("Content-Type") == "" {
		rw.Header().Set("Content-Type", ContentTypeAppJSON)
	}
	rw.WriteHeader(statusCode)
	if _, err := rw.Write(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))); err != nil {
		logError(logger, "failed to write response body", err)
	}
}

// RespondError writes {"error": {...}} with the status code. The error is logged and counted in metrics.
func RespondError(rw http.ResponseWriter, httpStatusCode int, apiErr *Error, logger log.FieldLogger) {
	if logger != nil {
		fields := []log.Field{log.String("error_code", apiErr.Code), log.String("error_message", apiErr.Message)}
		if len(apiErr.Context) != 0 {
			fields = append(fields, log.Strings("error_context", formatErrorContext(apiErr.Context)))
		}
		logger.Error("error in response", fields...)
	}
	countResponseError(apiErr)
	RespondCodeAndJSON(rw, httpStatusCode, ErrorResponseData{apiErr}, logger)
}

// RespondInternalError writes the internal error of the domain with 500 status code.
func RespondInternalError(rw http.ResponseWriter, domain string, logger log.FieldLogger) {
	RespondError(rw, http.StatusInternalServerError, NewInternalError(domain), logger)
}

// RespondBadRequestError writes an error with 400 status code and the message.
func RespondBadRequestError(rw http.ResponseWriter, domain, message string, logger log.FieldLogger) {
	RespondError(rw, http.StatusBadRequest, NewErrorForHTTPCode(domain, http.StatusBadRequest, message), logger)
}

func formatErrorContext(errCtx map[string]interface{}) []string {
	lines := make([]string, 0, len(errCtx))
	for k, v := range errCtx {
		lines = append(lines, fmt.Sprintf("%s: %v", k, v))
	}
	sort.Strings(lines)
	return lines
}

func logError(logger log.FieldLogger, msg string, err error) {
	if logger != nil {
		logger.Error(msg, log.Error(err))
	}
}
