package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per failure kind. A *Failure matches its kind's
// sentinel under errors.Is.
var (
	ErrUnclassified            = errors.New("unclassified failure")
	ErrMissingCredential       = errors.New("missing credential")
	ErrMalformedCredential     = errors.New("malformed credential")
	ErrInvalidCredential       = errors.New("invalid credential")
	ErrKeyConfigurationInvalid = errors.New("key configuration invalid")
	ErrPrincipalNotFound       = errors.New("principal not found")
	ErrLookupUnavailable       = errors.New("lookup unavailable")
	ErrRateLimited             = errors.New("rate limited")
	ErrUpstreamTimeout         = errors.New("upstream timeout")
	ErrCanceled                = errors.New("request canceled")
	ErrPayloadTooLarge         = errors.New("payload too large")
)

// FailureKind enumerates why a request could not proceed.
type FailureKind int

const (
	FailureUnclassified FailureKind = iota
	FailureMissingCredential
	FailureMalformedCredential
	FailureInvalidCredential
	FailureKeyConfigurationInvalid
	FailurePrincipalNotFound
	FailureLookupUnavailable
	FailureRateLimited
	FailureUpstreamTimeout
	FailureCanceled
	FailurePayloadTooLarge
)

var kindSentinels = map[FailureKind]error{
	FailureUnclassified:            ErrUnclassified,
	FailureMissingCredential:       ErrMissingCredential,
	FailureMalformedCredential:     ErrMalformedCredential,
	FailureInvalidCredential:       ErrInvalidCredential,
	FailureKeyConfigurationInvalid: ErrKeyConfigurationInvalid,
	FailurePrincipalNotFound:       ErrPrincipalNotFound,
	FailureLookupUnavailable:       ErrLookupUnavailable,
	FailureRateLimited:             ErrRateLimited,
	FailureUpstreamTimeout:         ErrUpstreamTimeout,
	FailureCanceled:                ErrCanceled,
	FailurePayloadTooLarge:         ErrPayloadTooLarge,
}

func (k FailureKind) String() string {
	switch k {
	case FailureMissingCredential:
		return "missing_credential"
	case FailureMalformedCredential:
		return "malformed_credential"
	case FailureInvalidCredential:
		return "invalid_credential"
	case FailureKeyConfigurationInvalid:
		return "key_configuration_invalid"
	case FailurePrincipalNotFound:
		return "principal_not_found"
	case FailureLookupUnavailable:
		return "lookup_unavailable"
	case FailureRateLimited:
		return "rate_limited"
	case FailureUpstreamTimeout:
		return "upstream_timeout"
	case FailureCanceled:
		return "canceled"
	case FailurePayloadTooLarge:
		return "payload_too_large"
	default:
		return "unclassified"
	}
}

// ServerFault reports whether the kind is an operational failure that is not
// attributable to the caller.
func (k FailureKind) ServerFault() bool {
	switch k {
	case FailureMissingCredential, FailureMalformedCredential, FailureInvalidCredential,
		FailurePrincipalNotFound, FailureRateLimited, FailureCanceled, FailurePayloadTooLarge:
		return false
	default:
		return true
	}
}

// Failure is a classified pipeline failure. Err holds the internal cause and
// is only ever logged, never sent to the client.
type Failure struct {
	Kind       FailureKind
	ExternalID string // PrincipalNotFound
	RetryAfter int    // RateLimited, seconds
	Err        error
}

func (f *Failure) Error() string {
	msg := f.Kind.String()
	if f.ExternalID != "" {
		msg += fmt.Sprintf(" (external_id=%s)", f.ExternalID)
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := kindSentinels[f.Kind]; ok {
		errs = append(errs, s)
	}
	if f.Err != nil {
		errs = append(errs, f.Err)
	}
	return errs
}

// AsFailure returns the *Failure in err's chain, or wraps err as Unclassified.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Kind: FailureUnclassified, Err: err}
}

func MissingCredential() *Failure {
	return &Failure{Kind: FailureMissingCredential}
}

func MalformedCredential() *Failure {
	return &Failure{Kind: FailureMalformedCredential}
}

func InvalidCredential(err error) *Failure {
	return &Failure{Kind: FailureInvalidCredential, Err: err}
}

func KeyConfigurationInvalid(err error) *Failure {
	return &Failure{Kind: FailureKeyConfigurationInvalid, Err: err}
}

func PrincipalNotFound(externalID string) *Failure {
	return &Failure{Kind: FailurePrincipalNotFound, ExternalID: externalID}
}

func LookupUnavailable(err error) *Failure {
	return &Failure{Kind: FailureLookupUnavailable, Err: err}
}

func RateLimited(retryAfter int) *Failure {
	return &Failure{Kind: FailureRateLimited, RetryAfter: retryAfter}
}

func UpstreamTimeout(err error) *Failure {
	return &Failure{Kind: FailureUpstreamTimeout, Err: err}
}

func Canceled(err error) *Failure {
	return &Failure{Kind: FailureCanceled, Err: err}
}

func PayloadTooLarge(err error) *Failure {
	return &Failure{Kind: FailurePayloadTooLarge, Err: err}
}

func Unclassified(err error) *Failure {
	return &Failure{Kind: FailureUnclassified, Err: err}
}

// Client error codes. This is the complete vocabulary a client can observe.
const (
	CodeMissingAuthHeader  = "MISSING_AUTH_HEADER"
	CodeNoBearerPrefix     = "NO_BEARER_PREFIX"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodePrincipalNotFound  = "PRINCIPAL_NOT_FOUND"
	CodeRateLimited        = "RATE_LIMITED"
	CodeUpstreamTimeout    = "UPSTREAM_TIMEOUT"
	CodeRequestCanceled    = "REQUEST_CANCELED"
	CodeServiceError       = "SERVICE_ERROR"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
)

// ErrorResponse is the standard JSON error envelope returned to clients.
type ErrorResponse struct {
	Status  string         `json:"status"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}
