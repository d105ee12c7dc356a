package fault

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// transientCodes are AWS service error codes that are safe to retry.
var transientCodes = map[string]bool{
	"ThrottlingException":                    true,
	"Throttling":                             true,
	"TooManyRequestsException":               true,
	"ProvisionedThroughputExceededException": true,
	"ServiceUnavailableException":            true,
	"ServiceUnavailable":                     true,
	"InternalServerException":                true,
	"InternalFailure":                        true,
	"ModelTimeoutException":                  true,
	"ModelNotReadyException":                 true,
	"RequestTimeout":                         true,
	"RequestTimeoutException":                true,
	"LimitExceededException":                 true,
}

// StatusError is returned by HTTP clients for unexpected response codes.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return "unexpected status " + http.StatusText(e.StatusCode) + " from " + e.URL
}

// Classify maps err onto the taxonomy. Errors already carrying a Kind keep it.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	if errors.Is(err, context.Canceled) {
		return KindUnclassified
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return KindTransient
	}
	var se *StatusError
	if errors.As(err, &se) {
		return kindForStatus(se.StatusCode)
	}
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		if k := kindForStatus(re.HTTPStatusCode()); k == KindTransient {
			return k
		}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if transientCodes[apiErr.ErrorCode()] || apiErr.ErrorFault() == smithy.FaultServer {
			return KindTransient
		}
		return KindUnclassified
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindTransient
	}
	if looksTransient(err.Error()) {
		return KindTransient
	}
	return KindUnclassified
}

func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return KindTransient
	case code == http.StatusNotFound:
		return KindNotFound
	}
	return KindUnclassified
}

// looksTransient catches provider SDKs that flatten HTTP failures into plain strings.
func looksTransient(msg string) bool {
	msg = strings.ToLower(msg)
	for _, s := range []string{"rate limit", "too many requests", "status code: 429", "503 service unavailable", "connection reset"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
