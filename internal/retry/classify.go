package retry

import (
	"strings"
	"time"
)

// Category groups failures by cause. It drives retryability and the
// user-facing message attached to a terminal failure.
type Category string

const (
	CategoryValidation     Category = "validation"
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryRateLimit      Category = "rate_limit"
	CategoryQuota          Category = "quota_exceeded"
	CategoryPayment        Category = "payment_required"
	CategoryNetwork        Category = "network"
	CategoryServer         Category = "server_error"
	CategoryTimeout        Category = "timeout"
	CategoryContentPolicy  Category = "content_policy"
	CategoryCircuitOpen    Category = "circuit_open"
	CategoryUnknown        Category = "unknown"
)

// Severity indicates how loudly a failure should be reported.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ClassifiedError is the typed verdict for a raw provider failure.
type ClassifiedError struct {
	Category         Category
	Severity         Severity
	Retryable        bool
	UserMessage      string
	TechnicalMessage string

	cause error
}

func (e *ClassifiedError) Error() string { return e.TechnicalMessage }

func (e *ClassifiedError) Unwrap() error { return e.cause }

// categoryProfile holds the fixed defaults a category carries.
type categoryProfile struct {
	severity    Severity
	retryable   bool
	userMessage string
	minDelay    time.Duration // floor for the computed backoff delay
}

var categoryProfiles = map[Category]categoryProfile{
	CategoryValidation: {
		severity:    SeverityLow,
		userMessage: "The request was invalid. Please adjust the generation parameters and try again.",
	},
	CategoryAuthentication: {
		severity:    SeverityHigh,
		userMessage: "Authentication with the generation service failed. Please check the configured API key.",
	},
	CategoryAuthorization: {
		severity:    SeverityHigh,
		userMessage: "This account is not allowed to perform the requested generation.",
	},
	CategoryRateLimit: {
		severity:    SeverityMedium,
		retryable:   true,
		userMessage: "The generation service is rate limiting requests. Retrying automatically.",
		minDelay:    5 * time.Second,
	},
	CategoryQuota: {
		severity:    SeverityHigh,
		userMessage: "The generation quota has been exhausted. Please wait for it to reset or upgrade the plan.",
	},
	CategoryPayment: {
		severity:    SeverityCritical,
		userMessage: "Insufficient credits to run this generation. Action required.",
	},
	CategoryNetwork: {
		severity:    SeverityMedium,
		retryable:   true,
		userMessage: "A network problem interrupted the generation. Retrying automatically.",
	},
	CategoryServer: {
		severity:    SeverityMedium,
		retryable:   true,
		userMessage: "The generation service had an internal problem. Retrying automatically.",
	},
	CategoryTimeout: {
		severity:    SeverityMedium,
		retryable:   true,
		userMessage: "The generation took too long and was interrupted. Retrying automatically.",
	},
	CategoryContentPolicy: {
		severity:    SeverityHigh,
		userMessage: "The request was rejected by the provider's content policy. Please revise the prompt.",
	},
	CategoryCircuitOpen: {
		severity:    SeverityMedium,
		retryable:   true,
		userMessage: "The generation service is temporarily unavailable. The job will be retried once it recovers.",
		minDelay:    10 * time.Second,
	},
	CategoryUnknown: {
		severity:    SeverityMedium,
		retryable:   true,
		userMessage: "Something went wrong during generation. Retrying automatically.",
	},
}

// pattern maps error-text fragments to a category. Patterns are checked
// in order and the first match wins; new categories are added by
// appending entries, not branching logic.
type pattern struct {
	fragments []string
	category  Category
}

var patternTable = []pattern{
	{[]string{"circuit breaker open"}, CategoryCircuitOpen},
	{[]string{"content policy", "content_policy", "safety system", "flagged by moderation"}, CategoryContentPolicy},
	{[]string{"insufficient credits", "payment required", "402"}, CategoryPayment},
	{[]string{"quota exceeded", "quota_exceeded", "daily request count exceeded", "monthly quota", "plan limit"}, CategoryQuota},
	{[]string{"429", "rate limit", "too many requests"}, CategoryRateLimit},
	{[]string{"401", "invalid api key", "unauthenticated", "authentication failed"}, CategoryAuthentication},
	{[]string{"403", "forbidden", "unauthorized", "permission denied"}, CategoryAuthorization},
	{[]string{"timeout", "timed out", "deadline exceeded"}, CategoryTimeout},
	{[]string{"500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable", "overloaded"}, CategoryServer},
	{[]string{"connection refused", "connection reset", "no such host", "broken pipe", "eof", "network is unreachable"}, CategoryNetwork},
	{[]string{"400", "invalid request", "invalid params", "validation", "unsupported"}, CategoryValidation},
}

// Classify maps a raw failure to a typed error. It is pure and
// deterministic; unmatched errors fall back to the unknown category,
// which stays retryable.
func Classify(err error) *ClassifiedError {
	if cerr, ok := err.(*ClassifiedError); ok {
		return cerr
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	category := CategoryUnknown
	for _, p := range patternTable {
		if matchesAny(lower, p.fragments) {
			category = p.category
			break
		}
	}

	profile := categoryProfiles[category]
	return &ClassifiedError{
		Category:         category,
		Severity:         profile.severity,
		Retryable:        profile.retryable,
		UserMessage:      profile.userMessage,
		TechnicalMessage: msg,
		cause:            err,
	}
}

func matchesAny(lower string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}

// MinDelay returns the category's backoff floor (zero for most).
func (c Category) MinDelay() time.Duration {
	return categoryProfiles[c].minDelay
}
