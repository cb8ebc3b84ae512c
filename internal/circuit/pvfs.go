package circuit

import (
	"time"

	"github.com/pvfs2/client/pkg/pvfserr"
)

// IsTransientServerError classifies a posted I/O callout's error as a
// circuit-breaker "failure" only when it is one of the two native PVFS
// codes that mean "the server is unreachable or overloaded right now"
// (NORECVR, TRYAGAIN). Every other error — including a clean success,
// ENOENT, EACCES, or a cancelled op — is not a breaker trip signal: the
// breaker exists to shed load on a server that is failing outright, not
// to penalize ordinary per-request errors. Intended as the IsSuccessful
// callout for a Config wrapping the file_io/file_iox service callouts
// per spec.md §9's worker-manager/circuit-breaker design note.
func IsTransientServerError(err error) bool {
	code, ok := err.(pvfserr.Code)
	if !ok {
		return false
	}
	return code == pvfserr.NoRecvr || code == pvfserr.TryAgain
}

// PVFSIsSuccessful is a Config.IsSuccessful callout treating only
// transient server errors as breaker failures.
func PVFSIsSuccessful(err error) bool {
	if err == nil {
		return true
	}
	return !IsTransientServerError(err)
}

// NewIOBreakerConfig returns the Config for the breakers a worker manager
// wraps around its service callouts (SetBreakers): five consecutive
// NORECVR/TRYAGAIN results trip the breaker, it tests recovery every 30s,
// and half-open admits at most three trial requests; the first success
// closes the breaker and the first failure reopens it.
func NewIOBreakerConfig() Config {
	return Config{
		MaxRequests: 3,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: PVFSIsSuccessful,
	}
}
