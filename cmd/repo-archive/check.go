package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/wolfeidau/repo-archive/archive"
	"github.com/wolfeidau/repo-archive/protocol/git"
)

// CheckCmd looks URLs up in a git archive without starting a server.
type CheckCmd struct {
	GitRepoArchive string   `help:"Git archive file." required:"" type:"path"`
	JSON           bool     `name:"json" help:"Print one JSON response per URL."`
	URLs           []string `arg:"" name:"url" help:"Remote URLs to check."`
}

type checkResult struct {
	URL string `json:"url"`
	git.HasGitRepoResponse
}

// Run implements the check command.
func (c *CheckCmd) Run(logger *slog.Logger, out io.Writer) error {
	a, err := archive.OpenGit(context.Background(), c.GitRepoArchive, archive.WithLogger(logger))
	if err != nil {
		return err
	}
	return c.check(a.Current(), out)
}

func (c *CheckCmd) check(idx *archive.GitIndex, out io.Writer) error {
	enc := json.NewEncoder(out)
	for _, u := range c.URLs {
		resp, err := git.Lookup(idx, u)
		if err != nil {
			return fmt.Errorf("checking %s: %w", u, err)
		}
		if c.JSON {
			if err := enc.Encode(checkResult{URL: u, HasGitRepoResponse: resp}); err != nil {
				return err
			}
			continue
		}
		status := "missing"
		if resp.Exists {
			status = "present"
		}
		if _, err := fmt.Fprintf(out, "%s\t%s\t%s\n", status, u, strings.Join(resp.Existing, ",")); err != nil {
			return err
		}
	}
	return nil
}

// NormalizeCmd prints the lookup variants of a URL.
type NormalizeCmd struct {
	URL string `arg:"" help:"Remote URL to normalize."`
}

// Run implements the normalize command.
func (c *NormalizeCmd) Run(out io.Writer) error {
	variants, err := git.Normalize(c.URL)
	if err != nil {
		return err
	}
	for _, v := range variants {
		if _, err := fmt.Fprintln(out, v); err != nil {
			return err
		}
	}
	return nil
}
