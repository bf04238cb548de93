package storage

import (
	"errors"
	"strings"
)

// ErrInvalidName is returned for object names that are empty or contain '/'.
var ErrInvalidName = errors.New("invalid object name")

var (
	diskFullIndicators = []string{
		"no space left on device",
		"disk full",
		"out of disk space",
		"insufficient disk space",
		"not enough space",
		"enospc",
		"disk quota exceeded",
	}

	networkIndicators = []string{
		"connection",
		"timeout",
		"network",
		"eof",
		"broken pipe",
		"tls handshake",
		"no such host",
	}

	credentialIndicators = []string{
		"401",
		"403",
		"unauthorized",
		"forbidden",
		"expired",
		"expiredtoken",
		"invalid token",
		"invalidaccesskeyid",
		"signaturedoesnotmatch",
		"authenticationfailed",
	}
)

// IsDiskFullError reports whether err looks like the local disk filled up.
func IsDiskFullError(err error) bool {
	return containsAny(err, diskFullIndicators)
}

// IsNetworkError reports whether err looks network-related.
func IsNetworkError(err error) bool {
	return containsAny(err, networkIndicators)
}

// IsCredentialError reports whether err looks like an authentication or
// authorization failure.
func IsCredentialError(err error) bool {
	return containsAny(err, credentialIndicators)
}

// Hint returns a short user-facing suggestion for err, or "".
func Hint(err error) string {
	switch {
	case err == nil:
		return ""
	case IsCredentialError(err):
		return "check the account credentials"
	case IsDiskFullError(err):
		return "free up local disk space"
	case IsNetworkError(err):
		return "check the network connection"
	}
	return ""
}

func containsAny(err error, indicators []string) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, indicator := range indicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}
