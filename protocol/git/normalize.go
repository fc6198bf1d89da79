package git

import (
	"strings"

	"github.com/jmgilman/go/errors"
)

// Schemes are the remote URL schemes a candidate may carry, in variant order.
var Schemes = []string{"http://", "https://", "git://"}

// Suffix is the repository suffix a candidate may carry.
const Suffix = ".git"

// VariantCount is the number of variants Normalize returns.
const VariantCount = 7

// ErrAmbiguousVariant is returned when more than one scheme or suffix matches a
// candidate at the same time. With disjoint schemes this cannot happen.
var ErrAmbiguousVariant = errors.New(errors.CodeInternal, "logic error")

// Normalize returns the lowercase variants of u to look up in a git index:
// for each scheme the stripped form with and without Suffix, then the bare
// stripped form.
func Normalize(u string) ([]string, error) {
	return variants(u, Schemes, []string{Suffix})
}

// Strip lowercases u and removes at most one suffix and then at most one
// scheme. Stripping an already stripped string is a no-op.
func Strip(u string) (string, error) {
	return strip(strings.ToLower(u), Schemes, []string{Suffix})
}

func variants(u string, schemes, suffixes []string) ([]string, error) {
	stripped, err := strip(strings.ToLower(u), schemes, suffixes)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(schemes)*(len(suffixes)+1)+1)
	for _, scheme := range schemes {
		withScheme := scheme + stripped
		for _, suffix := range suffixes {
			out = append(out, withScheme+suffix)
		}
		out = append(out, withScheme)
	}
	out = append(out, stripped)
	return out, nil
}

func strip(u string, schemes, suffixes []string) (string, error) {
	base, err := trimOne(u, suffixes, strings.HasSuffix, strings.TrimSuffix)
	if err != nil {
		return "", err
	}
	return trimOne(base, schemes, strings.HasPrefix, strings.TrimPrefix)
}

// trimOne removes the single affix of candidates that matches s. A second
// match is an ErrAmbiguousVariant.
func trimOne(s string, candidates []string, has func(string, string) bool, trim func(string, string) string) (string, error) {
	matched := ""
	for _, c := range candidates {
		if !has(s, c) {
			continue
		}
		if matched != "" {
			return "", errors.WithContextMap(
				errors.Wrapf(ErrAmbiguousVariant, errors.CodeInternal, "%q matches both %q and %q", s, matched, c),
				map[string]interface{}{"input": s},
			)
		}
		matched = c
	}
	if matched == "" {
		return s, nil
	}
	return trim(s, matched), nil
}
