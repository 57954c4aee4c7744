// Package recovery implements the failure-recovery core shared by every
// executor: error classification, per-resource circuit breaking, policy-driven
// retries with backoff, and hand-off of exhausted work to the dead letter queue.
package recovery

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/sentinel/internal/core/domain"
)

// Pattern tables checked in priority order. First match wins.
var (
	transientPatterns = []string{
		"rate limit",
		"too many requests",
		"service busy",
		"temporarily",
		"temporary failure",
		"try again",
		"throttl",
		"429",
	}
	networkPatterns = []string{
		"connection refused",
		"connection reset",
		"connection closed",
		"timeout",
		"timed out",
		"no such host",
		"dns",
		"tls",
		"ssl",
		"broken pipe",
		"unreachable",
		"eof",
	}
	resourcePatterns = []string{
		"out of memory",
		"no space left",
		"disk full",
		"quota exceeded",
		"resource exhausted",
		"too many open files",
	}
	permissionPatterns = []string{
		"permission denied",
		"access denied",
		"unauthorized",
		"forbidden",
		"authentication failed",
		"403",
	}
	validationPatterns = []string{
		"invalid",
		"malformed",
		"schema",
		"validation",
		"parse error",
		"bad request",
	}
)

// Classify maps an error to an ErrorCategory. It is total: any non-nil error
// maps to exactly one category, anything unmatched is permanent. Deterministic
// for identical input.
func Classify(err error) domain.ErrorCategory {
	if err == nil {
		return domain.CategoryPermanent
	}

	// Typed checks first, message patterns as fallback.
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.CategoryNetwork
	}
	if errors.Is(err, context.Canceled) {
		return domain.CategoryPermanent
	}

	if st, ok := status.FromError(err); ok {
		if cat, known := fromGRPCCode(st.Code()); known {
			return cat
		}
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT, syscall.EPIPE:
			return domain.CategoryNetwork
		case syscall.ENOMEM, syscall.ENOSPC, syscall.EMFILE:
			return domain.CategoryResource
		case syscall.EACCES, syscall.EPERM:
			return domain.CategoryPermission
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.CategoryNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case matchAny(msg, transientPatterns):
		return domain.CategoryTransient
	case matchAny(msg, networkPatterns):
		return domain.CategoryNetwork
	case matchAny(msg, resourcePatterns):
		return domain.CategoryResource
	case matchAny(msg, permissionPatterns):
		return domain.CategoryPermission
	case matchAny(msg, validationPatterns):
		return domain.CategoryValidation
	}

	return domain.CategoryPermanent
}

// ClassifyWithHint prefers an explicit caller hint over classification.
func ClassifyWithHint(err error, hint domain.ErrorCategory) domain.ErrorCategory {
	if hint != "" {
		return hint
	}
	return Classify(err)
}

func fromGRPCCode(c codes.Code) (domain.ErrorCategory, bool) {
	switch c {
	case codes.Unavailable, codes.Aborted:
		return domain.CategoryTransient, true
	case codes.DeadlineExceeded:
		return domain.CategoryNetwork, true
	case codes.ResourceExhausted:
		return domain.CategoryResource, true
	case codes.PermissionDenied, codes.Unauthenticated:
		return domain.CategoryPermission, true
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return domain.CategoryValidation, true
	case codes.NotFound, codes.AlreadyExists, codes.Unimplemented, codes.DataLoss:
		return domain.CategoryPermanent, true
	}
	return "", false
}

func matchAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
