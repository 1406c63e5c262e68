// Package tokenstore persists the opaque portal credentials.
//
// The authenticated sessions write tokens through immediately after every
// successful login or refresh, and load them once at construction, so a
// restarted process resumes with the last known credential before making
// any network call.
package tokenstore
