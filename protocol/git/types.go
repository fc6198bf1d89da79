package git

import (
	"github.com/wolfeidau/repo-archive/archive"
	"github.com/wolfeidau/repo-archive/protocol"
)

// HasGitRepoRequest is the body of POST /has_git_repo.
type HasGitRepoRequest struct {
	URL *string `json:"url"`
}

// Validate implements protocol.Validator.
func (r HasGitRepoRequest) Validate() error {
	if r.URL == nil {
		return protocol.MissingField("url")
	}
	return nil
}

// HasGitRepoResponse is the success body of POST /has_git_repo.
type HasGitRepoResponse struct {
	Exists   bool          `json:"exists"`
	Existing []string      `json:"existing"`
	Metadata *RepoMetadata `json:"metadata,omitempty"`
}

// RepoMetadata describes the mirror of one archived repository.
type RepoMetadata struct {
	URL        string `json:"url"`
	Path       string `json:"path"`
	CommitHash string `json:"commit_hash"`
	CommitDate string `json:"commit_date"`
	LastFetch  string `json:"last_fetch"`
}

func metadataFromRecord(rec archive.RepoRecord) *RepoMetadata {
	return &RepoMetadata{
		URL:        rec.RawURL,
		Path:       rec.LocalPath,
		CommitHash: rec.LastCommitHash,
		CommitDate: rec.LastCommitDate,
		LastFetch:  rec.LastFetchTime,
	}
}
