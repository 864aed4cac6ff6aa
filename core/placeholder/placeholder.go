/*Package placeholder rewrites symbolic table names in request URLs.

A placeholder is a table name wrapped in "${" and "}", for example

  /${orders}?select=id,${customers}(name)

Placeholders may appear anywhere in the path or query and may be percent
encoded on the wire. Rewrite decodes the URL once, resolves all distinct
names in one call and substitutes every placeholder with the identifier of
its table. Everything else is left as it is.
*/
package placeholder

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// Open starts a placeholder
	Open = "${"
	// Close ends a placeholder
	Close = "}"
)

// ErrMalformedURL is returned for URLs with invalid percent encoding
var ErrMalformedURL = errors.New("malformed url")

// a placeholder ends at the first closing brace, so a match can never
// extend into a neighbouring placeholder
var placeholderRegexp = regexp.MustCompile(regexp.QuoteMeta(Open) + `([^` + regexp.QuoteMeta(Close) + `]+)` + regexp.QuoteMeta(Close))

// NameResolver resolves symbolic table names of an organization
type NameResolver interface {
	Resolve(ctx context.Context, organizationID uuid.UUID, names []string) (map[string]string, error)
}

// Rewriter replaces placeholders with table identifiers
type Rewriter struct {
	resolver NameResolver
}

// NewRewriter returns a rewriter resolving names with r
func NewRewriter(r NameResolver) *Rewriter {
	return &Rewriter{resolver: r}
}

// Extract returns the distinct placeholder names in s, in order of first appearance
func Extract(s string) []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range placeholderRegexp.FindAllStringSubmatch(s, -1) {
		if name := m[1]; !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// Decode percent-decodes a URL once. A '+' stays a '+'.
func Decode(rawURL string) (string, error) {
	decoded, err := url.PathUnescape(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	return decoded, nil
}

// Substitute replaces every placeholder whose name is in ids. Placeholders
// with unknown names are kept.
func Substitute(s string, ids map[string]string) string {
	return placeholderRegexp.ReplaceAllStringFunc(s, func(placeholder string) string {
		name := placeholder[len(Open) : len(placeholder)-len(Close)]
		if id, ok := ids[name]; ok {
			return id
		}
		return placeholder
	})
}

// Rewrite returns rawURL with all placeholders replaced by the identifiers of
// the organization's tables. A URL without placeholders is returned
// unchanged and the resolver is not consulted. Otherwise the result is the
// decoded URL; it is not encoded again.
//
// If a name does not resolve, Rewrite returns the resolver's error and no URL.
func (rw *Rewriter) Rewrite(ctx context.Context, organizationID uuid.UUID, rawURL string) (string, error) {
	if !mayContainPlaceholder(rawURL) {
		return rawURL, nil
	}
	decoded, err := Decode(rawURL)
	if err != nil {
		return "", err
	}
	names := Extract(decoded)
	if len(names) == 0 {
		return rawURL, nil
	}
	ids, err := rw.resolver.Resolve(ctx, organizationID, names)
	if err != nil {
		return "", err
	}
	for _, name := range names {
		if _, ok := ids[name]; !ok {
			return "", fmt.Errorf("resolver returned no identifier for %s", name)
		}
	}
	return Substitute(decoded, ids), nil
}

// mayContainPlaceholder reports whether rawURL has a '$', plain or encoded.
// Without one no placeholder can appear after decoding, and the URL is not
// decoded at all.
func mayContainPlaceholder(rawURL string) bool {
	return strings.Contains(rawURL, "$") || strings.Contains(strings.ToUpper(rawURL), "%24")
}
