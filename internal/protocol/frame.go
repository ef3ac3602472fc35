package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"

	// MaxMessageBytes caps a single framed message.
	MaxMessageBytes = 1 << 20
)

// ErrEmptyMessage is returned when a frame carries no content at all.
var ErrEmptyMessage = errors.New("empty message")

var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em

	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: failed to create CBOR dec mode: %v", err))
	}
	cborDecMode = dm
}

// NormalizeContentType strips parameters and defaults to JSON.
func NormalizeContentType(contentType string) (string, error) {
	if contentType == "" {
		return ContentTypeJSON, nil
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("parse content type: %w", err)
	}
	switch mt {
	case ContentTypeJSON, ContentTypeCBOR:
		return mt, nil
	default:
		return "", fmt.Errorf("unsupported content type: %q", mt)
	}
}

// WriteMessage serializes msg to w in the given content type.
func WriteMessage(w io.Writer, contentType string, msg Message) error {
	ct, err := NormalizeContentType(contentType)
	if err != nil {
		return err
	}

	var data []byte
	switch ct {
	case ContentTypeCBOR:
		data, err = cborEncMode.Marshal(map[string]any(msg))
	default:
		data, err = json.Marshal(map[string]any(msg))
	}
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// ReadMessage reads one framed message from r.
func ReadMessage(r io.Reader, contentType string) (Message, error) {
	ct, err := NormalizeContentType(contentType)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxMessageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	if len(data) > MaxMessageBytes {
		return nil, fmt.Errorf("message exceeds max size (%d bytes)", MaxMessageBytes)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyMessage
	}

	var msg map[string]any
	switch ct {
	case ContentTypeCBOR:
		err = cborDecMode.Unmarshal(data, &msg)
	default:
		err = json.Unmarshal(data, &msg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	if len(msg) == 0 {
		return nil, ErrEmptyMessage
	}
	return Message(msg), nil
}
