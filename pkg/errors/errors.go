// Package errors provides the structured error type shared by every
// catalog-edge component. Each error carries a machine-readable [Code]
// whose category prefix decides the HTTP status returned to clients and
// whether a caller may treat the failure as transient.
//
// # Categories
//
//   - VAL: client input failed validation (400, or 422 for query params)
//   - AUTH: credential failures such as bad signatures or expired tokens (401)
//   - AUTHZ: the caller is authenticated but not allowed (403)
//   - NF: resource does not exist (404)
//   - RATE: request rejected by admission control (429)
//   - INT: unexpected internal failure (500)
//   - UNAVAIL: a dependency is down; callers may degrade (503)
//   - TIMEOUT: a dependency did not answer in time (504)
//
// # Degrade decisions
//
// Client adapters (redis, qdrant, postgres) wrap driver failures in INT or
// TIMEOUT codes. Only the rate limiter and the principal resolver translate
// those into a degrade-open or degrade-to-guest policy:
//
//	if errors.IsRetryable(err) || errors.IsInternal(err) {
//	    // infrastructure failure, admit the request
//	}
//
// The package is imported as sserr throughout the module to avoid
// shadowing the standard library errors package:
//
//	import sserr "github.com/StricklySoft/catalog-edge/pkg/errors"
package errors
