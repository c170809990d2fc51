package files

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Preview is what a rendered message shows for one attached file.
type Preview struct {
	Name     string `json:"name"`
	URL      string `json:"url,omitempty"`
	Resolved bool   `json:"resolved"`
	Rule     string `json:"rule"`
	Label    string `json:"label"`
}

// NewPreview resolves ref against the registry. An unresolved file still
// yields a metadata-only preview.
func NewPreview(ref FileRef, reg *Registry) Preview {
	var uploads []Upload
	if reg != nil {
		uploads = reg.Entries()
	}
	url, rule := ResolveRule(ref, uploads)
	return Preview{
		Name:     ref.DisplayName(),
		URL:      url,
		Resolved: rule != RuleNone,
		Rule:     rule.String(),
		Label:    Label(ref),
	}
}

// Label formats a file's metadata, e.g. "paper.pdf (2.3 MB, application/pdf)".
func Label(ref FileRef) string {
	name := ref.DisplayName()
	if name == "" {
		name = "unnamed file"
	}
	switch {
	case ref.Size >= 0 && ref.MimeType != "":
		return fmt.Sprintf("%s (%s, %s)", name, humanize.Bytes(uint64(ref.Size)), ref.MimeType)
	case ref.Size >= 0:
		return fmt.Sprintf("%s (%s)", name, humanize.Bytes(uint64(ref.Size)))
	case ref.MimeType != "":
		return fmt.Sprintf("%s (%s)", name, ref.MimeType)
	default:
		return name
	}
}
