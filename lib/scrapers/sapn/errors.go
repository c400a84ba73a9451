package sapn

// Error kinds mirror the pipeline stages so callers can branch with
// errors.As instead of matching on a shared base type. None of these are
// transient: the retry layer never re-runs a request that produced one.

// AuthError is a login handshake failure: missing form, rejected
// credentials, or a handshake that lands back on the login page.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "sapn auth: " + e.Reason
}

// ExtractionError means the remoting context could not be recovered from
// the meter-data page. Usually the vendor changed the page underneath us.
type ExtractionError struct {
	Reason string
}

func (e *ExtractionError) Error() string {
	return "sapn remoting context: " + e.Reason
}

// DownloadError is an RPC-level failure: bad remote status, malformed
// result shape, or an empty payload.
type DownloadError struct {
	Reason string
}

func (e *DownloadError) Error() string {
	return "sapn download: " + e.Reason
}
