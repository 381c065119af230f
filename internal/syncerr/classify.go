// Package syncerr is the single error taxonomy of the sync pipeline.
// Raw failures map to a category that decides retryability, the user
// message, and the log severity.
package syncerr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"
)

// Category classifies a sync failure.
type Category string

// Failure categories.
const (
	CategoryNetwork        Category = "network"
	CategoryPermission     Category = "permission"
	CategoryParsing        Category = "parsing"
	CategoryEmbedding      Category = "embedding"
	CategoryDatabase       Category = "database"
	CategoryCircuitBreaker Category = "circuit_breaker"
	CategoryUnknown        Category = "unknown"
)

// ErrCircuitOpen marks a call rejected by an open circuit breaker.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrNotUTF8 marks file content that failed UTF-8 validation.
var ErrNotUTF8 = errors.New("content is not valid utf-8")

// categoryRule binds a category to its message keywords and policy.
type categoryRule struct {
	keywords    []string
	retryable   bool
	userMessage string
}

// categoryOrder fixes the matching order; earlier categories win when
// keywords from several would match.
var categoryOrder = []Category{
	CategoryCircuitBreaker,
	CategoryNetwork,
	CategoryPermission,
	CategoryParsing,
	CategoryEmbedding,
	CategoryDatabase,
}

var categoryRules = map[Category]categoryRule{
	CategoryNetwork: {
		keywords:    []string{"connection", "timeout", "network", "unreachable", "refused"},
		retryable:   true,
		userMessage: "Network connection issue. Please check your internet connection and try again.",
	},
	CategoryPermission: {
		keywords:    []string{"permission", "access denied", "forbidden", "unauthorized"},
		retryable:   false,
		userMessage: "Permission denied. Please check file and directory permissions.",
	},
	CategoryParsing: {
		keywords:    []string{"decode", "encoding", "utf-8", "unicode", "syntax", "invalid"},
		retryable:   false,
		userMessage: "Unable to parse file content. The file may be corrupted or in an unsupported encoding.",
	},
	CategoryEmbedding: {
		keywords:    []string{"embed", "rate limit", "too many requests", "429", "quota", "throttle"},
		retryable:   true,
		userMessage: "Embedding service unavailable. Please try again in a few moments.",
	},
	CategoryDatabase: {
		keywords:    []string{"database", "postgres", "sql", "query", "constraint", "store"},
		retryable:   true,
		userMessage: "Database error occurred. Please contact support if this persists.",
	},
	CategoryCircuitBreaker: {
		keywords:    []string{"circuit breaker"},
		retryable:   false,
		userMessage: "Too many recent failures. System is temporarily unavailable.",
	},
}

// Classify maps a raw failure to its category. Typed errors are
// inspected first, then keywords within the message.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return CategoryCircuitBreaker
	case errors.Is(err, ErrNotUTF8):
		return CategoryParsing
	case errors.Is(err, fs.ErrPermission):
		return CategoryPermission
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryNetwork
	}

	msg := strings.ToLower(err.Error())

	for _, cat := range categoryOrder {
		for _, keyword := range categoryRules[cat].keywords {
			if strings.Contains(msg, keyword) {
				return cat
			}
		}
	}

	return CategoryUnknown
}

// IsRetryable reports whether failures of this category may be retried.
func IsRetryable(cat Category) bool {
	rule, ok := categoryRules[cat]
	if !ok {
		return false
	}

	return rule.retryable
}

// UserMessage returns the user-facing message for a classified failure.
// Permission and parsing failures append the raw detail since the user
// can usually act on it.
func UserMessage(cat Category, err error) string {
	rule, ok := categoryRules[cat]
	if !ok {
		return fmt.Sprintf("An unexpected error occurred: %v", err)
	}

	if cat == CategoryPermission || cat == CategoryParsing {
		return fmt.Sprintf("%s Details: %v", rule.userMessage, err)
	}

	return rule.userMessage
}

// LogsFullTrace reports whether failures of this category warrant a
// full error log. Network and breaker rejections are expected noise.
func LogsFullTrace(cat Category) bool {
	return cat != CategoryNetwork && cat != CategoryCircuitBreaker
}
