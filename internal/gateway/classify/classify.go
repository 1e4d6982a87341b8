// Package classify maps pipeline failures to HTTP statuses and the client
// error envelope.
package classify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"authgate/internal/domain"
)

// StatusClientClosedRequest is recorded for requests whose caller went away.
// Nothing is written to the client in that case.
const StatusClientClosedRequest = 499

type mapping struct {
	status int
	code   string
}

var table = map[domain.FailureKind]mapping{
	domain.FailureMissingCredential:       {http.StatusUnauthorized, domain.CodeMissingAuthHeader},
	domain.FailureMalformedCredential:     {http.StatusUnauthorized, domain.CodeNoBearerPrefix},
	domain.FailureInvalidCredential:       {http.StatusUnauthorized, domain.CodeInvalidCredentials},
	domain.FailureKeyConfigurationInvalid: {http.StatusUnauthorized, domain.CodeInvalidCredentials},
	domain.FailurePrincipalNotFound:       {http.StatusNotFound, domain.CodePrincipalNotFound},
	domain.FailureLookupUnavailable:       {http.StatusInternalServerError, domain.CodeServiceError},
	domain.FailureRateLimited:             {http.StatusTooManyRequests, domain.CodeRateLimited},
	domain.FailureUpstreamTimeout:         {http.StatusGatewayTimeout, domain.CodeUpstreamTimeout},
	domain.FailureCanceled:                {StatusClientClosedRequest, domain.CodeRequestCanceled},
	domain.FailurePayloadTooLarge:         {http.StatusRequestEntityTooLarge, domain.CodePayloadTooLarge},
}

var serviceError = mapping{http.StatusInternalServerError, domain.CodeServiceError}

// Classify returns the status and client representation for err. Kinds
// absent from the table, and errors that are not a *domain.Failure, map to
// 500 SERVICE_ERROR with no details.
func Classify(err error) (int, domain.ErrorResponse) {
	f := domain.AsFailure(err)
	if f == nil {
		f = domain.Unclassified(nil)
	}

	m, ok := table[f.Kind]
	if !ok {
		m = serviceError
	}
	resp := domain.ErrorResponse{Status: "error", Code: m.code}

	switch f.Kind {
	case domain.FailurePrincipalNotFound:
		resp.Details = map[string]any{"external_id": f.ExternalID}
	case domain.FailureRateLimited:
		resp.Details = map[string]any{"retry_after": f.RetryAfter}
	}
	return m.status, resp
}

// Write classifies err and writes the JSON envelope to w. It returns the
// status it wrote.
func Write(w http.ResponseWriter, err error) int {
	status, resp := Classify(err)

	if f := domain.AsFailure(err); f != nil && f.Kind == domain.FailureRateLimited {
		w.Header().Set("Retry-After", strconv.Itoa(f.RetryAfter))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
		slog.Error("encoding error response", "error", encErr)
	}
	return status
}
