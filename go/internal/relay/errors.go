package relay

import (
	"errors"
	"regexp"
)

var (
	// ErrMissingTopic is returned when a publish or last request names no topic.
	ErrMissingTopic = errors.New("topic is required")
	// ErrInvalidPayload is returned when published data is not a JSON document.
	ErrInvalidPayload = errors.New("payload must be a JSON document")
	// ErrInvalidChannel is returned for a channel name ValidChannel rejects.
	ErrInvalidChannel = errors.New("channel must be 1-128 characters of [A-Za-z0-9_-]")
)

var channelPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidChannel reports whether name is an acceptable channel namespace.
func ValidChannel(name string) bool {
	return channelPattern.MatchString(name)
}
