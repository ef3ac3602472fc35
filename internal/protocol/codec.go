package protocol

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrProtocol matches every ProtocolError via errors.Is.
var ErrProtocol = errors.New("protocol error")

// ProtocolError reports a malformed wire message.
type ProtocolError struct {
	Key    string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s: %s", e.Key, e.Reason)
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

func missing(key string) error {
	return &ProtocolError{Key: key, Reason: "required key is missing"}
}

// EncodeRequest converts req to its wire form. Parameters are carried under
// InputPrefix.
func EncodeRequest(req *Request) Message {
	msg := make(Message, len(req.Parameters)+3)
	msg[KeyCommand] = req.Command
	msg[KeyVersion] = req.Version
	msg[KeyPackage] = req.Package
	for k, v := range req.Parameters {
		msg[InputPrefix+k] = v
	}
	return msg
}

// DecodeRequest parses an inbound message. It fails closed when any reserved
// key is absent; parameter values are kept verbatim. Keys that are neither
// reserved nor prefixed are ignored. Parameters is nil when the message
// carries no prefixed keys.
func DecodeRequest(msg Message) (*Request, error) {
	for _, key := range []string{KeyCommand, KeyVersion, KeyPackage} {
		if _, ok := msg[key]; !ok {
			return nil, missing(key)
		}
	}

	command, ok := msg[KeyCommand].(string)
	if !ok {
		return nil, &ProtocolError{Key: KeyCommand, Reason: "must be a string"}
	}
	pkg, ok := msg[KeyPackage].(string)
	if !ok {
		return nil, &ProtocolError{Key: KeyPackage, Reason: "must be a string"}
	}
	version, err := toInt(msg[KeyVersion])
	if err != nil {
		return nil, &ProtocolError{Key: KeyVersion, Reason: err.Error()}
	}

	// A request without parameters keeps a nil map.
	var params map[string]any
	for k, v := range msg {
		if name, ok := strings.CutPrefix(k, InputPrefix); ok {
			if params == nil {
				params = make(map[string]any)
			}
			params[name] = v
		}
	}

	return &Request{
		Command:    command,
		Version:    version,
		Package:    pkg,
		Parameters: params,
	}, nil
}

// EncodeResponse converts resp to its wire form. Returns is written only on
// success and Error only on failure.
func EncodeResponse(resp *Response) Message {
	msg := Message{
		KeySuccess: resp.Success,
		KeyVersion: resp.Version,
	}
	if resp.Success {
		msg[KeyReturns] = resp.Result
	} else {
		msg[KeyError] = resp.Error
	}
	return msg
}

// DecodeResponse parses a reply message. Success and Version are mandatory.
func DecodeResponse(msg Message) (*Response, error) {
	for _, key := range []string{KeySuccess, KeyVersion} {
		if _, ok := msg[key]; !ok {
			return nil, missing(key)
		}
	}

	success, ok := msg[KeySuccess].(bool)
	if !ok {
		return nil, &ProtocolError{Key: KeySuccess, Reason: "must be a bool"}
	}
	version, err := toInt(msg[KeyVersion])
	if err != nil {
		return nil, &ProtocolError{Key: KeyVersion, Reason: err.Error()}
	}

	resp := &Response{Success: success, Version: version}
	if success {
		resp.Result = msg[KeyReturns]
		return resp, nil
	}
	if raw, ok := msg[KeyError]; ok && raw != nil {
		s, ok := raw.(string)
		if !ok {
			return nil, &ProtocolError{Key: KeyError, Reason: "must be a string"}
		}
		resp.Error = s
	}
	return resp, nil
}

// toInt normalizes numeric values produced by the JSON and CBOR decoders.
func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		if n > math.MaxInt32 || n < math.MinInt32 {
			return 0, fmt.Errorf("out of range: %d", n)
		}
		return int(n), nil
	case uint32:
		if n > math.MaxInt32 {
			return 0, fmt.Errorf("out of range: %d", n)
		}
		return int(n), nil
	case uint64:
		if n > math.MaxInt32 {
			return 0, fmt.Errorf("out of range: %d", n)
		}
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("must be an integer, got %v", n)
		}
		if n > math.MaxInt32 || n < math.MinInt32 {
			return 0, fmt.Errorf("out of range: %v", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("must be an integer, got %T", v)
	}
}
