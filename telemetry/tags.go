// Package telemetry provides request tagging for structured logging and metrics.
package telemetry

import (
	"context"
	"net/http"
)

type contextKey string

const (
	// requestTagsKey is the context key for request tags holder.
	requestTagsKey contextKey = "request_tags"
)

// LookupResult represents the outcome of an archive lookup.
type LookupResult string

const (
	LookupFound   LookupResult = "found"
	LookupMissing LookupResult = "missing"
	LookupError   LookupResult = "error"
	LookupNA      LookupResult = "na"
)

// RequestTags holds mutable request metadata that handlers can set for logging.
type RequestTags struct {
	Protocol     string
	LookupResult LookupResult
	Endpoint     string
}

// InjectTags creates a new request with an empty RequestTags in context.
// Call this in middleware before handlers run.
func InjectTags(r *http.Request) *http.Request {
	tags := &RequestTags{LookupResult: LookupNA}
	return r.WithContext(context.WithValue(r.Context(), requestTagsKey, tags))
}

// GetTags retrieves the request tags from context.
// Returns nil if not in a request context with logging middleware.
func GetTags(r *http.Request) *RequestTags {
	if tags, ok := r.Context().Value(requestTagsKey).(*RequestTags); ok {
		return tags
	}
	return nil
}

// SetLookupResult sets the lookup result for logging.
func SetLookupResult(r *http.Request, result LookupResult) {
	if tags := GetTags(r); tags != nil {
		tags.LookupResult = result
	}
}

// SetProtocol sets the protocol tag for metrics and logging.
func SetProtocol(r *http.Request, protocol string) {
	if tags := GetTags(r); tags != nil {
		tags.Protocol = protocol
	}
}

// SetEndpoint sets the endpoint type for logging.
func SetEndpoint(r *http.Request, endpoint string) {
	if tags := GetTags(r); tags != nil {
		tags.Endpoint = endpoint
	}
}
