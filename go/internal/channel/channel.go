package channel

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Namespace prefixes for the two replicated channels of a deployment.
const (
	StatePrefix = "lightning-ladder"
	NotesPrefix = "lightning-ladder-notes"
)

var (
	nonAlnum   = regexp.MustCompile(`[^a-zA-Z0-9]`)
	underscore = regexp.MustCompile(`_+`)
)

// Names holds the channel namespaces of one deployment.
type Names struct {
	State string
	Notes string
}

// Derive maps a deployment address to a channel name so independent
// deployments never share a channel. Only host and path count; scheme, port,
// query and fragment are ignored.
func Derive(prefix, deploymentURL string) (string, error) {
	raw := strings.TrimSpace(deploymentURL)
	if raw == "" {
		return "", fmt.Errorf("deployment url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse deployment url: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("deployment url %q has no host", deploymentURL)
	}

	slug := nonAlnum.ReplaceAllString(u.Hostname()+u.Path, "_")
	slug = underscore.ReplaceAllString(slug, "_")
	slug = strings.Trim(slug, "_")
	return prefix + "__" + slug, nil
}

// ForDeployment derives both channel names.
func ForDeployment(deploymentURL string) (Names, error) {
	state, err := Derive(StatePrefix, deploymentURL)
	if err != nil {
		return Names{}, err
	}
	notes, err := Derive(NotesPrefix, deploymentURL)
	if err != nil {
		return Names{}, err
	}
	return Names{State: state, Notes: notes}, nil
}
