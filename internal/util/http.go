package util

import (
	"net/http"
	"strings"
)

// HasHeader reports whether the named header is present.
func HasHeader(h http.Header, name string) bool {
	return len(h.Values(name)) > 0
}

// HeaderValues returns every comma-separated element of the named
// header, trimmed, across all of its occurrences.
func HeaderValues(h http.Header, name string) []string {
	var values []string
	for _, line := range h.Values(name) {
		for _, v := range strings.Split(line, ",") {
			values = append(values, strings.TrimSpace(v))
		}
	}

	return values
}

// HeaderContains reports whether value is listed in the named header.
// Comparison is case-insensitive.
func HeaderContains(h http.Header, name, value string) bool {
	for _, v := range HeaderValues(h, name) {
		if strings.EqualFold(v, value) {
			return true
		}
	}

	return false
}
