// Package huggingface answers whether a model repository is in the archive.
package huggingface

import (
	"github.com/jmgilman/go/errors"
	"github.com/wolfeidau/repo-archive/archive"
	"github.com/wolfeidau/repo-archive/protocol"
)

// Endpoint is the path served by Handler.
const Endpoint = "/has_huggingface_repo"

// ErrNotConfigured is returned when no model-repository archive was loaded.
var ErrNotConfigured = errors.New(errors.CodeInvalidConfig, protocol.ErrorHuggingfaceUnavailable)

// HasHuggingfaceRepoRequest is the body of POST /has_huggingface_repo.
type HasHuggingfaceRepoRequest struct {
	Repo *string `json:"repo"`
}

// Validate implements protocol.Validator.
func (r HasHuggingfaceRepoRequest) Validate() error {
	if r.Repo == nil {
		return protocol.MissingField("repo")
	}
	return nil
}

// HasHuggingfaceRepoResponse is the success body of POST /has_huggingface_repo.
type HasHuggingfaceRepoResponse struct {
	Exists bool `json:"exists"`
}

// IndexSource returns the model-repository index in force at the time of the
// call.
type IndexSource interface {
	Current() *archive.HuggingfaceIndex
}

// Lookup reports whether repo is in the index of source, ignoring case.
func Lookup(source IndexSource, repo string) (HasHuggingfaceRepoResponse, error) {
	if source == nil {
		return HasHuggingfaceRepoResponse{}, ErrNotConfigured
	}
	return HasHuggingfaceRepoResponse{Exists: source.Current().Contains(repo)}, nil
}
