package protocol

// Version is the protocol version stamped on every request and response this
// process produces. Callers on other versions are accepted; handlers may branch
// on Request.Version.
const Version = 3

// Reserved message keys.
const (
	KeyCommand = "Command"
	KeyVersion = "Version"
	KeyPackage = "Package"
	KeySuccess = "Success"
	KeyReturns = "Returns"
	KeyError   = "Error"

	// InputPrefix namespaces caller parameters so they never collide with
	// protocol metadata.
	InputPrefix = "Input_"
)

// Message is the flat key/value form exchanged with the host channel.
type Message map[string]any

// Request is a decoded inbound command invocation.
type Request struct {
	Command    string
	Version    int
	Package    string // caller identity
	Parameters map[string]any
}

// Param returns the named caller parameter.
func (r *Request) Param(name string) (any, bool) {
	if r == nil || r.Parameters == nil {
		return nil, false
	}
	v, ok := r.Parameters[name]
	return v, ok
}

// Response is the outcome of a dispatched request.
// Exactly one of Result/Error is meaningful, selected by Success.
type Response struct {
	Success bool
	Version int
	Result  any
	Error   string
}

// OK builds a successful response carrying result.
func OK(result any) *Response {
	return &Response{Success: true, Version: Version, Result: result}
}

// Fail builds a failed response carrying msg.
func Fail(msg string) *Response {
	return &Response{Success: false, Version: Version, Error: msg}
}
