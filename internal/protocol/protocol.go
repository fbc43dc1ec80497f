// Package protocol defines the line-delimited JSON wire format
// between kvmeshd and its clients (spec §6) and its codec, built on
// goccy/go-json rather than encoding/json — a drop-in faster
// marshaler, used the way the teacher's dependency-light approach
// would still reach for a concrete, named JSON library rather than
// leave the choice unstated.
package protocol

import (
	"bufio"
	"fmt"
	"io"

	json "github.com/goccy/go-json"

	"github.com/kvmesh/kvmesh/internal/events"
)

// Operation names a request's verb.
type Operation string

const (
	OpCreate      Operation = "Create"
	OpRead        Operation = "Read"
	OpUpdate      Operation = "Update"
	OpDelete      Operation = "Delete"
	OpSubscribe   Operation = "Subscribe"
	OpUnsubscribe Operation = "Unsubscribe"
)

// Request is a single client message. ExpirationSeconds and
// SubscribedEventTypes are meaningful only for the operations named in
// spec §6; the dispatcher enforces field presence per branch rather
// than modeling each operation as its own type.
type Request struct {
	Operation            Operation `json:"Operation"`
	Key                  string    `json:"Key,omitempty"`
	Value                any       `json:"Value,omitempty"`
	ExpirationSeconds    *int      `json:"ExpirationSeconds,omitempty"`
	SubscribedEventTypes []string  `json:"SubscribedEventTypes,omitempty"`
}

// Response is a single server message: either a reply to a Request or
// an asynchronous notification carrying an events.CacheEvent.
//
// Value is a pointer so a Read's result renders as an explicit
// "Value":null on a miss, per §8 scenario S1's literal
// {"Success":true,"Value":null,"IsNotification":false} — while
// Create/Update/Delete/Subscribe/Unsubscribe responses, which never
// set Value, omit the key entirely rather than also emitting null.
type Response struct {
	Success        bool               `json:"Success"`
	Value          *any               `json:"Value,omitempty"`
	Error          string             `json:"Error,omitempty"`
	IsNotification bool               `json:"IsNotification"`
	Event          *events.CacheEvent `json:"Event,omitempty"`
}

// OK builds a successful, non-notification response carrying value —
// used only for Read, whose result must appear on the wire even when
// nil.
func OK(value any) Response {
	return Response{Success: true, Value: &value}
}

// Fail builds a failed, non-notification response.
func Fail(errMsg string) Response {
	return Response{Success: false, Error: errMsg}
}

// Notification wraps evt as a server-pushed response.
func Notification(evt events.CacheEvent) Response {
	return Response{Success: true, IsNotification: true, Event: &evt}
}

// Decoder reads newline- or concatenation-delimited JSON request
// objects from a stream, per §6 "implementations SHOULD also accept
// unframed concatenated JSON on input".
type Decoder struct {
	dec *json.Decoder
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: json.NewDecoder(bufio.NewReader(r))}
}

// Next reads the next Request. Returns io.EOF at a clean end of
// stream; any other error indicates malformed JSON and, per §4.4, the
// session terminates without a response.
func (d *Decoder) Next() (Request, error) {
	var req Request
	if err := d.dec.Decode(&req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Encoder writes newline-framed JSON responses, one object per line,
// matching §6's "each message is a single JSON object; messages are
// separated by a trailing \n on every response".
type Encoder struct {
	w *bufio.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Write encodes resp and flushes it immediately, so a response lands
// on the wire as soon as it's produced rather than waiting for a
// buffer to fill.
func (e *Encoder) Write(resp Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("protocol: encode response: %w", err)
	}
	if _, err := e.w.Write(b); err != nil {
		return err
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return err
	}
	return e.w.Flush()
}
