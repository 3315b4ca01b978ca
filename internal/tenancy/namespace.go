// Package tenancy maps tenants to their isolated schemas and owns the
// per-tenant connection handles used by every tenant-scoped request.
package tenancy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// SchemaPrefix prefixes every tenant schema name.
const SchemaPrefix = "tenant_"

// maxIdentifierLen is the PostgreSQL identifier limit (NAMEDATALEN - 1).
const maxIdentifierLen = 63

var (
	ErrInvalidSlug      = errors.New("tenancy: invalid slug")
	ErrInvalidNamespace = errors.New("tenancy: invalid namespace")
)

var (
	whitespace     = regexp.MustCompile(`\s+`)
	validSlug      = regexp.MustCompile(`^[a-z0-9_-]+$`)
	validNamespace = regexp.MustCompile(`^tenant_[a-z0-9_-]+$`)
)

// Slugify derives a tenant slug from a company name: lowercased, with every
// run of whitespace replaced by a single hyphen.
func Slugify(companyName string) string {
	return whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(companyName)), "-")
}

// ValidateSlug checks that slug yields a usable schema name.
func ValidateSlug(slug string) error {
	if slug == "" || !validSlug.MatchString(slug) {
		return fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}
	if len(SchemaPrefix)+len(slug) > maxIdentifierLen {
		return fmt.Errorf("%w: %q is too long", ErrInvalidSlug, slug)
	}
	return nil
}

// SchemaName returns the namespace for a slug.
func SchemaName(slug string) string {
	return SchemaPrefix + slug
}

// ValidateNamespace rejects anything that is not a tenant schema name.
func ValidateNamespace(ns string) error {
	if len(ns) > maxIdentifierLen || !validNamespace.MatchString(ns) {
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, ns)
	}
	return nil
}

// QuoteIdent quotes a validated namespace for use in DDL. Slugs may contain
// hyphens, which are only legal inside quoted identifiers.
func QuoteIdent(ns string) string {
	return `"` + strings.ReplaceAll(ns, `"`, `""`) + `"`
}
