package git

import (
	"github.com/wolfeidau/repo-archive/archive"
)

// Lookup checks every variant of u against idx. Existing lists the raw URLs of
// the matched records in variant order. Metadata comes from the record matched
// by the earliest variant, so the choice is deterministic when several
// records match.
func Lookup(idx *archive.GitIndex, u string) (HasGitRepoResponse, error) {
	vs, err := Normalize(u)
	if err != nil {
		return HasGitRepoResponse{}, err
	}

	resp := HasGitRepoResponse{Existing: []string{}}
	for _, v := range vs {
		rec, ok := idx.Get(v)
		if !ok {
			continue
		}
		if resp.Metadata == nil {
			resp.Metadata = metadataFromRecord(rec)
		}
		resp.Existing = append(resp.Existing, rec.RawURL)
	}
	resp.Exists = len(resp.Existing) > 0
	return resp, nil
}
