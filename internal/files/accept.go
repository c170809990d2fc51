package files

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// acceptedMIME lists the MIME types the generation pipeline ingests.
var acceptedMIME = map[string]bool{
	"application/pdf":               true,
	"text/markdown":                 true,
	"text/x-markdown":               true,
	"application/x-tex":             true,
	"application/x-latex":           true,
	"text/x-tex":                    true,
	"text/x-latex":                  true,
	"application/zip":               true,
	"application/x-zip-compressed":  true,
	"application/msword":            true,
	"application/vnd.ms-powerpoint": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
}

// acceptedExt lists the extensions the generation pipeline ingests.
var acceptedExt = map[string]bool{
	".pdf":      true,
	".md":       true,
	".markdown": true,
	".tex":      true,
	".zip":      true,
	".doc":      true,
	".docx":     true,
	".ppt":      true,
	".pptx":     true,
}

// Accept reports whether a file is an accepted upload. Either a matching
// MIME type or a matching extension is enough: declared MIME types are
// often missing or wrong for LaTeX and Markdown sources.
func Accept(name, mimeType string) bool {
	if acceptedMIME[baseMIME(mimeType)] {
		return true
	}
	return acceptedExt[strings.ToLower(filepath.Ext(name))]
}

// baseMIME strips parameters such as "; charset=utf-8".
func baseMIME(m string) string {
	base, _, _ := strings.Cut(m, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// DetectMIME sniffs the MIME type of the file at path from its content.
func DetectMIME(path string) (string, error) {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("files: detect mime %s: %w", path, err)
	}
	return baseMIME(m.String()), nil
}

// Rejection explains why a selected file was left out.
type Rejection struct {
	Path   string
	Reason string
}

func (r Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Path, r.Reason)
}

// Select builds FileRefs for the given local paths. Files that cannot be
// read or are not an accepted type are excluded and reported; the
// remaining selection is still usable.
func Select(paths []string) ([]FileRef, []Rejection) {
	var refs []FileRef
	var rejected []Rejection
	for _, p := range paths {
		ref, err := selectOne(p)
		if err != nil {
			rejected = append(rejected, Rejection{Path: p, Reason: err.Error()})
			continue
		}
		refs = append(refs, ref)
	}
	return refs, rejected
}

func selectOne(path string) (FileRef, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return FileRef{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return FileRef{}, fmt.Errorf("cannot read file")
	}
	if info.IsDir() {
		return FileRef{}, fmt.Errorf("is a directory")
	}

	// An unreadable MIME is not fatal; the extension may still accept it.
	mimeType, _ := DetectMIME(abs)
	name := filepath.Base(abs)
	if !Accept(name, mimeType) {
		return FileRef{}, fmt.Errorf("unsupported file type (PDF, Markdown, LaTeX, ZIP, Word, PowerPoint)")
	}

	return FileRef{
		Name:        name,
		Size:        info.Size(),
		MimeType:    mimeType,
		LocalHandle: (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(),
	}, nil
}

// LocalPath converts a file:// handle back to a filesystem path.
func LocalPath(handle string) (string, error) {
	u, err := url.Parse(handle)
	if err != nil {
		return "", fmt.Errorf("files: parse handle: %w", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("files: handle %q is not a local file", handle)
	}
	return filepath.FromSlash(u.Path), nil
}
