package session

import "errors"

var (
	// ErrDuplicateName is returned by Join when the name is already queued, ignoring case.
	ErrDuplicateName = errors.New("name already in queue")
	// ErrInvalidName is returned when a name is empty or longer than MaxNameLength.
	ErrInvalidName = errors.New("invalid speaker name")
	// ErrSpeakerNotFound is returned when no speaker has the given id.
	ErrSpeakerNotFound = errors.New("speaker not found")
	// ErrSpeakerActive is returned when an operation needs a speaker off the floor.
	ErrSpeakerActive = errors.New("speaker is active")
	// ErrSpeakerNotWaiting is returned by Activate for a speaker that is not waiting.
	ErrSpeakerNotWaiting = errors.New("speaker is not waiting")
	// ErrIndexOutOfRange is returned when a position or move falls outside the queue.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrNoActiveSpeaker is returned by timer operations when nobody holds the floor.
	ErrNoActiveSpeaker = errors.New("no active speaker")
	// ErrNoWaitingSpeaker is returned by StartNextWaiting when the queue has nobody waiting.
	ErrNoWaitingSpeaker = errors.New("no waiting speaker")
	// ErrMalformedSnapshot is returned for a remote state without a speakers list.
	ErrMalformedSnapshot = errors.New("malformed state snapshot")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("session engine closed")
)

// errNoChange marks a mutation that was accepted but left state untouched;
// it is never returned to callers.
var errNoChange = errors.New("no change")
