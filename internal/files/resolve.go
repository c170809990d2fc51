package files

// Rule identifies which check matched a FileRef to a URL.
type Rule int

const (
	RuleNone Rule = iota
	RuleRemoteURL
	RuleLocalHandle
	RuleName           // ref.Name == upload.Name
	RuleNameToFilename // ref.Name == upload.Filename
	RuleFilenameToName // ref.Filename == upload.Name
	RuleFilenames      // ref.Filename == upload.Filename
)

func (r Rule) String() string {
	switch r {
	case RuleRemoteURL:
		return "remote_url"
	case RuleLocalHandle:
		return "local_handle"
	case RuleName:
		return "name"
	case RuleNameToFilename:
		return "name_to_filename"
	case RuleFilenameToName:
		return "filename_to_name"
	case RuleFilenames:
		return "filenames"
	default:
		return "none"
	}
}

// Resolve returns a display URL for ref, or ok=false when nothing matches.
func Resolve(ref FileRef, uploads []Upload) (url string, ok bool) {
	url, rule := ResolveRule(ref, uploads)
	return url, rule != RuleNone
}

// ResolveRule is Resolve that also reports the matching rule. Each rule
// is tried across every upload before the next rule is considered, so an
// exact name match always beats a cross match on an earlier entry.
func ResolveRule(ref FileRef, uploads []Upload) (string, Rule) {
	if ref.RemoteURL != "" {
		return ref.RemoteURL, RuleRemoteURL
	}
	if ref.LocalHandle != "" {
		return ref.LocalHandle, RuleLocalHandle
	}

	checks := []struct {
		rule  Rule
		match func(Upload) bool
	}{
		{RuleName, func(u Upload) bool { return equalNonEmpty(ref.Name, u.Name) }},
		{RuleNameToFilename, func(u Upload) bool { return equalNonEmpty(ref.Name, u.Filename) }},
		{RuleFilenameToName, func(u Upload) bool { return equalNonEmpty(ref.Filename, u.Name) }},
		{RuleFilenames, func(u Upload) bool { return equalNonEmpty(ref.Filename, u.Filename) }},
	}
	for _, c := range checks {
		for _, u := range uploads {
			if c.match(u) {
				return u.URL, c.rule
			}
		}
	}
	return "", RuleNone
}

// equalNonEmpty keeps two blank labels from matching each other.
func equalNonEmpty(a, b string) bool {
	return a != "" && a == b
}
