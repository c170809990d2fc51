// Package files models uploaded artifacts and resolves the URL a stored
// file reference should be displayed with.
package files

// UnknownSize marks a FileRef whose byte size was never reported.
const UnknownSize int64 = -1

// FileRef is a reference to an uploaded artifact as carried by a user
// message. The same logical upload may arrive labelled by Name (the
// initial selection) or by Filename (the server-persisted form).
type FileRef struct {
	Name     string `json:"name,omitempty"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type,omitempty"`

	// LocalHandle is an ephemeral reference to the selected file (a
	// file:// URL). It does not survive persistence.
	LocalHandle string `json:"-"`
	RemoteURL   string `json:"remote_url,omitempty"`
}

// Pending reports whether the reference has no usable URL of its own and
// must be matched against the upload registry.
func (f FileRef) Pending() bool {
	return f.LocalHandle == "" && f.RemoteURL == ""
}

// DisplayName returns the best label for the file.
func (f FileRef) DisplayName() string {
	if f.Name != "" {
		return f.Name
	}
	return f.Filename
}

// Upload is one completed upload as reported by the storage backend.
type Upload struct {
	Name     string `json:"name,omitempty"`
	Filename string `json:"filename,omitempty"`
	URL      string `json:"url"`
}
