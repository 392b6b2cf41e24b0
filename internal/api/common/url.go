// Package common provides shared HTTP utility functions for API handlers.
package common

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"
)

// MaxURLParamLength bounds identifiers taken from the request path
const MaxURLParamLength = 128

// GetAndValidateURLParam extracts and decodes a path parameter.
// The value must be non-empty, at most MaxURLParamLength bytes and free of
// whitespace and control characters.
func GetAndValidateURLParam(r *http.Request, paramName string) (string, error) {
	decoded, err := url.PathUnescape(chi.URLParam(r, paramName))
	if err != nil {
		return "", fmt.Errorf("invalid URL encoding in %s", paramName)
	}

	if strings.TrimSpace(decoded) == "" {
		return "", fmt.Errorf("%s cannot be empty", paramName)
	}
	if len(decoded) > MaxURLParamLength {
		return "", fmt.Errorf("%s exceeds %d characters", paramName, MaxURLParamLength)
	}
	if strings.IndexFunc(decoded, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) >= 0 {
		return "", fmt.Errorf("%s cannot contain whitespace or control characters", paramName)
	}

	return decoded, nil
}
