// Package portal talks to xdg-desktop-portal over the D-Bus session bus.
package portal

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/godbus/dbus/v5"

	"agentstudio.dev/deskrec/capture"
)

const (
	ObjectName        = "org.freedesktop.portal.Desktop"
	ObjectPath        = "/org/freedesktop/portal/desktop"
	CallBaseName      = "org.freedesktop.portal"
	PropertiesGetName = "org.freedesktop.DBus.Properties.Get"

	requestInterface = CallBaseName + ".Request"
	responseMember   = "Response"
	requestCloseName = requestInterface + ".Close"
)

var ErrUnexpectedResponse = errors.New("unexpected response from dbus")

// ResponseStatus is the first argument of Request.Response.
type ResponseStatus = uint32

const (
	Success   ResponseStatus = 0
	Cancelled ResponseStatus = 1
	Ended     ResponseStatus = 2
)

var (
	boolSignature   = dbus.SignatureOfType(reflect.TypeOf(false))
	stringSignature = dbus.SignatureOfType(reflect.TypeOf(""))
)

func fromBool(input bool) dbus.Variant {
	return dbus.MakeVariantWithSignature(input, boolSignature)
}

func fromString(input string) dbus.Variant {
	return dbus.MakeVariantWithSignature(input, stringSignature)
}

// Client issues portal requests on one bus connection.
type Client struct {
	conn *dbus.Conn
}

// NewClient uses the shared session bus connection.
func NewClient() (*Client, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("dbus session bus: %w", err)
	}
	return &Client{conn: conn}, nil
}

// GetProperty reads a property of a portal interface.
func (c *Client) GetProperty(ctx context.Context, interfaceName, property string) (any, error) {
	obj := c.conn.Object(ObjectName, ObjectPath)
	call := obj.CallWithContext(ctx, PropertiesGetName, 0, interfaceName, property)
	if call.Err != nil {
		return nil, call.Err
	}
	var value dbus.Variant
	if err := call.Store(&value); err != nil {
		return nil, err
	}
	return value.Value(), nil
}

// request calls method, which must return a Request handle, and waits for
// the handle's Response signal. The match is installed before the call so
// a fast response cannot be missed.
func (c *Client) request(ctx context.Context, method string, args ...any) (map[string]dbus.Variant, error) {
	match := []dbus.MatchOption{
		dbus.WithMatchInterface(requestInterface),
		dbus.WithMatchMember(responseMember),
	}
	if err := c.conn.AddMatchSignal(match...); err != nil {
		return nil, fmt.Errorf("dbus add match: %w", err)
	}
	defer func() { _ = c.conn.RemoveMatchSignal(match...) }()

	signals := make(chan *dbus.Signal, 8)
	c.conn.Signal(signals)
	defer c.conn.RemoveSignal(signals)

	obj := c.conn.Object(ObjectName, ObjectPath)
	call := obj.CallWithContext(ctx, method, 0, args...)
	if call.Err != nil {
		return nil, fmt.Errorf("%s: %w", method, call.Err)
	}
	var handle dbus.ObjectPath
	if err := call.Store(&handle); err != nil {
		return nil, fmt.Errorf("%s handle: %w", method, err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.Object(ObjectName, handle).Call(requestCloseName, 0).Err
			return nil, ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return nil, fmt.Errorf("%w: signal channel closed", ErrUnexpectedResponse)
			}
			if sig.Path != handle || sig.Name != requestInterface+"."+responseMember {
				continue
			}
			status, results, err := parseResponse(sig.Body)
			if err != nil {
				return nil, err
			}
			if err := statusError(status); err != nil {
				return nil, err
			}
			return results, nil
		}
	}
}

// statusError maps a non-success response to capture.ErrCancelled.
func statusError(status ResponseStatus) error {
	switch status {
	case Success:
		return nil
	case Cancelled:
		return fmt.Errorf("%w: user cancelled", capture.ErrCancelled)
	default:
		return fmt.Errorf("%w: request ended with status %d", capture.ErrCancelled, status)
	}
}

func parseResponse(body []any) (ResponseStatus, map[string]dbus.Variant, error) {
	if len(body) != 2 {
		return Ended, nil, ErrUnexpectedResponse
	}
	status, ok := body[0].(uint32)
	if !ok {
		return Ended, nil, ErrUnexpectedResponse
	}
	results, ok := body[1].(map[string]dbus.Variant)
	if !ok {
		return Ended, nil, ErrUnexpectedResponse
	}
	return status, results, nil
}
