package ingestion

import "testing"

func TestInferMetadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		url     string
		host    string
		docType string
		section string
	}{
		{
			name:    "kubernetes concepts",
			url:     "https://kubernetes.io/docs/concepts/workloads/pods/",
			host:    "kubernetes.io",
			docType: "reference",
			section: "concepts",
		},
		{
			name:    "kubernetes tutorial",
			url:     "https://kubernetes.io/docs/tutorials/security/apparmor/",
			host:    "kubernetes.io",
			docType: "tutorial",
			section: "tutorials",
		},
		{
			name:    "owasp cheat sheet host",
			url:     "https://cheatsheetseries.owasp.org/cheatsheets/Kubernetes_Security_Cheat_Sheet.html",
			host:    "cheatsheetseries.owasp.org",
			docType: "guide",
			section: "cheatsheets",
		},
		{
			name:    "www prefix stripped",
			url:     "https://www.example.com/guides/setup",
			host:    "example.com",
			docType: "guide",
			section: "guides",
		},
		{
			name:    "api host",
			url:     "https://api.example.com/v1/widgets",
			host:    "api.example.com",
			docType: "api",
			section: "v1",
		},
		{
			name:    "release notes",
			url:     "https://docs.example.com/en/latest/release-notes/2.0",
			host:    "docs.example.com",
			docType: "changelog",
			section: "release-notes",
		},
		{
			name:    "changelog file",
			url:     "https://github.com/org/repo/blob/main/CHANGELOG.md",
			host:    "github.com",
			docType: "changelog",
			section: "org",
		},
		{
			name:    "unknown defaults",
			url:     "https://example.org/",
			host:    "example.org",
			docType: "reference",
		},
		{
			name:    "unparseable",
			url:     "://bad",
			docType: "reference",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := InferMetadata(tt.url)
			if got.Host != tt.host {
				t.Errorf("Host: got %q, want %q", got.Host, tt.host)
			}
			if got.DocType != tt.docType {
				t.Errorf("DocType: got %q, want %q", got.DocType, tt.docType)
			}
			if got.Section != tt.section {
				t.Errorf("Section: got %q, want %q", got.Section, tt.section)
			}
		})
	}
}

func TestInferredMetadata_ApplyKeepsDeclared(t *testing.T) {
	t.Parallel()

	meta := map[string]string{"doc_type": "guide"}
	InferredMetadata{Host: "kubernetes.io", DocType: "reference"}.apply(meta)

	if meta["doc_type"] != "guide" {
		t.Errorf("declared doc_type overwritten: %q", meta["doc_type"])
	}
	if meta["host"] != "kubernetes.io" {
		t.Errorf("host: got %q", meta["host"])
	}
	if _, ok := meta["section"]; ok {
		t.Error("empty values must not be applied")
	}
}
