package bridge

import "fmt"

// Error sources for ParseError.
const (
	SourceTelephony = "telephony"
	SourceUpstream  = "upstream"
)

// ParseError reports an inbound frame that was not a well-formed event. The
// frame is dropped and the connection stays open.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("bridge: malformed %s frame: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UpstreamConnectionError reports that the realtime API connection could not
// be opened or was lost. Op is "dial" or "read".
type UpstreamConnectionError struct {
	Op  string
	Err error
}

func (e *UpstreamConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("bridge: upstream %s: connection closed", e.Op)
	}
	return fmt.Sprintf("bridge: upstream %s: %v", e.Op, e.Err)
}

func (e *UpstreamConnectionError) Unwrap() error { return e.Err }
