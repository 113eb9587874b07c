package portal

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const screenshotCallName = CallBaseName + ".Screenshot.Screenshot"

// Screenshot takes a non-interactive full-screen screenshot and returns the
// local path of the PNG written by the portal.
func (c *Client) Screenshot(ctx context.Context) (string, error) {
	options := map[string]any{
		"handle_token": fromString(handleToken()),
		"modal":        fromBool(false),
		"interactive":  fromBool(false),
	}
	results, err := c.request(ctx, screenshotCallName, "", options)
	if err != nil {
		return "", fmt.Errorf("portal screenshot: %w", err)
	}
	v, ok := results["uri"]
	if !ok {
		return "", fmt.Errorf("%w: no uri in screenshot response", ErrUnexpectedResponse)
	}
	uri, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("%w: uri has type %T", ErrUnexpectedResponse, v.Value())
	}
	return pathFromURI(uri)
}

// handleToken returns a token that is a valid object path element.
func handleToken() string {
	return "deskrec_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func pathFromURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: bad uri %q: %v", ErrUnexpectedResponse, uri, err)
	}
	if u.Scheme != "file" || u.Path == "" {
		return "", fmt.Errorf("%w: unsupported uri %q", ErrUnexpectedResponse, uri)
	}
	return u.Path, nil
}

// ScreenshotVersion returns the version of the portal's Screenshot
// interface.
func (c *Client) ScreenshotVersion(ctx context.Context) (uint32, error) {
	v, err := c.GetProperty(ctx, CallBaseName+".Screenshot", "version")
	if err != nil {
		return 0, fmt.Errorf("portal screenshot version: %w", err)
	}
	version, ok := v.(uint32)
	if !ok {
		return 0, fmt.Errorf("%w: version has type %T", ErrUnexpectedResponse, v)
	}
	return version, nil
}
