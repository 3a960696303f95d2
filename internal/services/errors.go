// Package services implements the reconciliation engine's orchestration
// layer: per-thread views that serialize fetch results, realtime events, and
// optimistic mutations through one apply queue and publish the merged view.
// This file centralizes the service-level error values so they can be
// consistently returned by view methods and surfaced as notices on the
// update stream; mapping to user-facing copy is the UI layer's concern.
package services

import "errors"

var (
	// ErrFetchFailed indicates a historical page could not be retrieved. The
	// cursor is left unchanged, so retrying LoadMore is idempotent.
	ErrFetchFailed = errors.New("historical page unavailable")

	// ErrSubmissionRejected is returned when the permission gate denies a
	// mutation. The rejection is local and immediate: no mutation record is
	// created and the network collaborator is never contacted.
	ErrSubmissionRejected = errors.New("submission not permitted")

	// ErrSubmissionFailed indicates the backend rejected a pending mutation;
	// the speculative overlay has been rolled back.
	ErrSubmissionFailed = errors.New("submission failed")

	// ErrSubmissionTimedOut indicates a pending mutation stayed unresolved
	// past the configured bound. Treated exactly like ErrSubmissionFailed.
	ErrSubmissionTimedOut = errors.New("submission timed out")

	// ErrSubscriptionDropped signals the realtime channel was lost after the
	// redial budget. The merged view stays consistent (historical fetch
	// remains authoritative); freshness is degraded until reopened.
	ErrSubscriptionDropped = errors.New("realtime subscription dropped")

	// ErrEmptyContent is returned when a create's content is empty after
	// trimming.
	ErrEmptyContent = errors.New("content is empty")

	// ErrContentTooLong is returned when a create exceeds the configured
	// maximum content length.
	ErrContentTooLong = errors.New("content too long")

	// ErrViewClosed is returned by operations on a closed thread view.
	ErrViewClosed = errors.New("thread view is closed")

	// ErrUnknownMutation is returned by Retry for a local id that is not a
	// retained failed create.
	ErrUnknownMutation = errors.New("unknown mutation")
)
