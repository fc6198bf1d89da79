// Package protocol holds the wire helpers shared by the lookup handlers.
//
// Every response is written with status 200. Failures are reported in-band
// through an "error" field and an optional "details" field.
package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jmgilman/go/errors"
)

// Error payload strings. Callers match on these, so they must not change.
const (
	ErrorInvalidEndpoint        = "invalid endpoint"
	ErrorJSONParse              = "json parse error"
	ErrorHandlingRequest        = "error handling request"
	ErrorHuggingfaceUnavailable = "instance started without huggingface archive provided"
)

// MaxRequestBodySize bounds lookup request bodies.
const MaxRequestBodySize int64 = 64 * 1024

// ErrParse marks a request body that could not be decoded.
var ErrParse = errors.New(errors.CodeInvalidInput, "unreadable request body")

// ErrorResponse is the in-band failure payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Validator is implemented by request types with required fields.
type Validator interface {
	Validate() error
}

// Decode reads the whole request body and unmarshals it into v. Trailing data
// after the JSON value is an error. If v implements Validator it is validated
// after decoding. All failures wrap ErrParse.
func Decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		return parseError(fmt.Errorf("reading request body: %w", err))
	}
	return DecodeBytes(body, v)
}

// DecodeBytes is Decode over an in-memory body.
func DecodeBytes(body []byte, v any) error {
	if int64(len(body)) > MaxRequestBodySize {
		return parseError(fmt.Errorf("request body exceeds %d bytes", MaxRequestBodySize))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return parseError(err)
	}
	if val, ok := v.(Validator); ok {
		if err := val.Validate(); err != nil {
			return parseError(err)
		}
	}
	return nil
}

// parseError wraps cause so that errors.Is(err, ErrParse) holds while the
// message stays the cause's text, which is what callers see in details.
func parseError(cause error) error {
	return &decodeError{cause: cause}
}

type decodeError struct {
	cause error
}

func (e *decodeError) Error() string {
	return e.cause.Error()
}

func (e *decodeError) Unwrap() []error {
	return []error{ErrParse, e.cause}
}

// MissingField reports a required request field that was absent.
func MissingField(name string) error {
	return fmt.Errorf("missing field `%s`", name)
}

// WriteJSON encodes v as the response body with status 200.
func WriteJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes an in-band failure payload.
func WriteError(w http.ResponseWriter, msg, details string) {
	WriteJSON(w, ErrorResponse{Error: msg, Details: details})
}

// WriteParseError writes the payload for an unreadable request body.
func WriteParseError(w http.ResponseWriter, err error) {
	WriteError(w, ErrorJSONParse, err.Error())
}

// WriteHandlingError writes the payload for a failure while handling an
// otherwise well-formed request.
func WriteHandlingError(w http.ResponseWriter, err error) {
	WriteError(w, ErrorHandlingRequest, err.Error())
}

// WriteInvalidEndpoint writes the payload for an unrecognized path.
func WriteInvalidEndpoint(w http.ResponseWriter) {
	WriteError(w, ErrorInvalidEndpoint, "")
}
