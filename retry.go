package azs

import (
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

var DefaultRetryConfig = RetryConfig{
	MaxRetries: 3,
	BaseDelay:  100 * time.Millisecond,
	MaxDelay:   30 * time.Second,
}

// RetryConfig controls the retry policy of the storage client's transport.
// The upload drivers themselves never retry.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// TryTimeout bounds a single attempt. Zero leaves the SDK default.
	TryTimeout time.Duration
}

// retryableStatusCodes are the responses worth another attempt.
var retryableStatusCodes = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusServiceUnavailable,
	http.StatusRequestTimeout,
	http.StatusBadGateway,
	http.StatusGatewayTimeout,
}

// policyOptions maps the config onto the SDK retry policy. Zero or negative
// MaxRetries disables retries, which the SDK spells as -1.
func (c RetryConfig) policyOptions() policy.RetryOptions {
	opts := policy.RetryOptions{
		RetryDelay:    c.BaseDelay,
		MaxRetryDelay: c.MaxDelay,
		TryTimeout:    c.TryTimeout,
		StatusCodes:   retryableStatusCodes,
	}
	if c.MaxRetries <= 0 {
		opts.MaxRetries = -1
	} else {
		opts.MaxRetries = int32(c.MaxRetries)
	}
	return opts
}
