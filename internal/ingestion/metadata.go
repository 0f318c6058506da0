package ingestion

import (
	"net/url"
	"strings"
)

// InferredMetadata holds best-effort metadata inferred from a document URL.
// Metadata declared on the source always takes precedence.
type InferredMetadata struct {
	// Host is the lower-cased hostname without a leading "www.".
	Host string
	// DocType classifies the document (reference, tutorial, guide, api, changelog).
	DocType string
	// Section is the first meaningful path segment (e.g. "concepts").
	Section string
}

// docTypeSegments maps path segments to a document type. The first segment
// (from the left) that matches wins.
var docTypeSegments = map[string]string{
	"tutorials":       "tutorial",
	"tutorial":        "tutorial",
	"getting-started": "tutorial",
	"quick-start":     "tutorial",
	"quickstart":      "tutorial",
	"learn":           "tutorial",
	"guides":          "guide",
	"guide":           "guide",
	"how-to":          "guide",
	"howto":           "guide",
	"cheatsheets":     "guide",
	"api":             "api",
	"apis":            "api",
	"api-reference":   "api",
	"reference":       "reference",
	"concepts":        "reference",
	"changelog":       "changelog",
	"changelogs":      "changelog",
	"release-notes":   "changelog",
	"releases":        "changelog",
}

// ignoredSegments are skipped when picking the section.
var ignoredSegments = map[string]bool{
	"docs": true, "doc": true, "en": true, "en-us": true, "latest": true, "stable": true, "www-project": true,
}

// InferMetadata inspects a document URL and returns best-effort metadata.
// Unknown URLs default to DocType "reference".
//
// Some hosts publish everything under a single kind:
//
//	api.*           → api
//	cheatsheetseries.owasp.org → guide
func InferMetadata(rawURL string) InferredMetadata {
	m := InferredMetadata{DocType: "reference"}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return m
	}

	m.Host = strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	segments := trimSegments(strings.ToLower(parsed.Path))

	for _, seg := range segments {
		if !ignoredSegments[seg] {
			m.Section = seg
			break
		}
	}

	switch {
	case strings.HasPrefix(m.Host, "api."):
		m.DocType = "api"
		return m
	case m.Host == "cheatsheetseries.owasp.org":
		m.DocType = "guide"
		return m
	}

	for _, seg := range segments {
		if t, ok := docTypeSegments[seg]; ok {
			m.DocType = t
			break
		}
	}
	if len(segments) > 0 && strings.HasPrefix(segments[len(segments)-1], "changelog") {
		m.DocType = "changelog"
	}
	return m
}

// apply copies the inferred values into meta without overwriting keys that
// are already present.
func (m InferredMetadata) apply(meta map[string]string) {
	for k, v := range map[string]string{"host": m.Host, "doc_type": m.DocType, "section": m.Section} {
		if v == "" {
			continue
		}
		if _, ok := meta[k]; !ok {
			meta[k] = v
		}
	}
}

// trimSegments splits a URL path into non-empty segments.
func trimSegments(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
