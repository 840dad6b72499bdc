package errors

// Code is a machine-readable error code of the form CATEGORY_NNN. Codes are
// stable once assigned and are safe to expose in logs and metrics labels.
type Code string

const (
	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeValidationFormat indicates a field has an invalid format.
	CodeValidationFormat Code = "VAL_003"

	// CodeValidationRange indicates a value is outside its accepted range.
	CodeValidationRange Code = "VAL_004"
)

// Credential failures. Each verification failure kind has its own code so
// that the HTTP boundary can pick the client-facing detail string and the
// metrics layer can label failures without string matching.
const (
	// CodeAuthentication indicates a general authentication failure, for
	// example a protected endpoint reached without credentials.
	CodeAuthentication Code = "AUTH_001"

	// CodeAuthenticationExpired indicates the token exp claim has passed,
	// even after clock skew tolerance is applied.
	CodeAuthenticationExpired Code = "AUTH_002"

	// CodeAuthenticationInvalid indicates the token is malformed: wrong
	// segment count, undecodable header or payload.
	CodeAuthenticationInvalid Code = "AUTH_003"

	// CodeAuthenticationSignature indicates the signature did not verify
	// against the selected key.
	CodeAuthenticationSignature Code = "AUTH_004"

	// CodeAuthenticationMissingKeyID indicates the token header has no kid.
	CodeAuthenticationMissingKeyID Code = "AUTH_005"

	// CodeAuthenticationAlgorithm indicates the header alg is outside the
	// configured algorithm policy.
	CodeAuthenticationAlgorithm Code = "AUTH_006"

	// CodeAuthenticationUnknownKey indicates the kid is absent from the
	// key set even after one forced refresh.
	CodeAuthenticationUnknownKey Code = "AUTH_007"

	// CodeAuthenticationTokenType indicates a refresh token was presented
	// where an access token is required.
	CodeAuthenticationTokenType Code = "AUTH_008"

	// CodeAuthenticationRevoked indicates the token jti is on the denylist.
	CodeAuthenticationRevoked Code = "AUTH_009"
)

const (
	// CodeAuthorization indicates a general authorization failure.
	CodeAuthorization Code = "AUTHZ_001"

	// CodeAuthorizationDenied indicates the principal is not on an allow-list.
	CodeAuthorizationDenied Code = "AUTHZ_002"

	// CodeNotFound indicates a general not found error.
	CodeNotFound Code = "NF_001"

	// CodeNotFoundResource indicates the requested document does not exist.
	CodeNotFoundResource Code = "NF_003"

	// CodeRateLimited indicates the request exceeded its sliding-window quota.
	CodeRateLimited Code = "RATE_001"
)

const (
	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalDatabase indicates a store operation failed.
	CodeInternalDatabase Code = "INT_002"

	// CodeInternalConfiguration indicates a configuration error.
	CodeInternalConfiguration Code = "INT_003"

	// CodeUnavailable indicates a general service unavailable error.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableDependency indicates a dependent store is unreachable.
	CodeUnavailableDependency Code = "UNAVAIL_002"

	// CodeUnavailableOverloaded indicates the service is shedding load.
	CodeUnavailableOverloaded Code = "UNAVAIL_003"

	// CodeUnavailableAuthService indicates the identity provider key set
	// could not be fetched. The principal resolver degrades this to guest on
	// public endpoints; authentication endpoints surface it as 503.
	CodeUnavailableAuthService Code = "UNAVAIL_004"

	// CodeTimeout indicates a general timeout error.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutDatabase indicates a store operation timed out.
	CodeTimeoutDatabase Code = "TIMEOUT_002"

	// CodeTimeoutDependency indicates an HTTP call to a dependency timed out.
	CodeTimeoutDependency Code = "TIMEOUT_003"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the prefix before the first underscore ("AUTH" for
// "AUTH_002"). A code without an underscore is its own category.
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
