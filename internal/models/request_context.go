package models

// RequestContext carries per-request caller metadata. It is built once by the
// transport layer and passed by value next to every command.
type RequestContext struct {
	IPAddress string
	UserAgent string
	UserID    string // empty for unauthenticated calls
}
