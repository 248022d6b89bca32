package security

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	resourceNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 _-]{0,62}$`)
	kebabNamePattern    = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)
	handlerPattern      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*\.[A-Za-z_][A-Za-z0-9_]*$`)
)

// ValidationError represents an input validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateResourceName checks a user-facing resource name
func ValidateResourceName(field, name string) error {
	if !resourceNamePattern.MatchString(name) {
		return &ValidationError{Field: field, Message: "must be 1-63 characters of letters, digits, space, '_' or '-'"}
	}
	return nil
}

// ValidateKebabName checks an action group name such as "dataset-tools"
func ValidateKebabName(field, name string) error {
	if len(name) > 48 || !kebabNamePattern.MatchString(name) {
		return &ValidationError{Field: field, Message: "must be lower-case kebab-case, at most 48 characters"}
	}
	return nil
}

// ValidateHandler checks a function entry point of the form module.function
func ValidateHandler(field, handler string) error {
	if !handlerPattern.MatchString(handler) {
		return &ValidationError{Field: field, Message: "must look like module.function"}
	}
	return nil
}

// SanitizeFileName strips directory components from a client-supplied
// file name and rejects names that would escape their prefix
func SanitizeFileName(name string) (string, error) {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	base := path.Base(name)
	if base == "" || base == "." || base == ".." || base == "/" {
		return "", &ValidationError{Field: "FileName", Message: "invalid file name"}
	}
	if len(base) > 255 {
		return "", &ValidationError{Field: "FileName", Message: "file name too long"}
	}
	return base, nil
}

// ValidateCrawlURL checks that a seed URL is an absolute http(s) URL that
// does not point at a loopback or private address literal
func ValidateCrawlURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return nil, &ValidationError{Field: "Url", Message: "must be an absolute URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &ValidationError{Field: "Url", Message: "scheme must be http or https"}
	}

	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return nil, &ValidationError{Field: "Url", Message: "host is not allowed"}
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return nil, &ValidationError{Field: "Url", Message: "host is not allowed"}
		}
	}
	u.Fragment = ""
	return u, nil
}
