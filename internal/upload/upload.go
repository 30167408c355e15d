// Package upload sends captured frames and camera metadata to remote
// endpoints with single-attempt HTTP PUT requests.
package upload

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/cjeanneret/PrusaCam/internal/config"
	"github.com/cjeanneret/PrusaCam/internal/debug"
)

// Constant labels carried in the info payload.
const (
	DriverLabel   = "V4L2"
	TriggerScheme = "THIRTY_SEC"
)

// Kind distinguishes the two calls made per endpoint.
type Kind string

const (
	KindInfo  Kind = "info"
	KindImage Kind = "image"
)

// Credentials are the two static header values forwarded with every request.
type Credentials struct {
	Token       string
	Fingerprint string
}

// CredentialsOf returns the credentials configured for a camera.
func CredentialsOf(cam config.CameraConfig) Credentials {
	return Credentials{Token: cam.Token, Fingerprint: cam.Fingerprint}
}

// Resolution is the capture size reported in Info.
type Resolution struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

// CameraInfo is the body of the "config" object in Info.
type CameraInfo struct {
	Path          string     `json:"path"`
	Name          string     `json:"name"`
	Driver        string     `json:"driver"`
	TriggerScheme string     `json:"trigger_scheme"`
	Resolution    Resolution `json:"resolution"`
}

// Info is the metadata document sent to an endpoint's info URL.
type Info struct {
	Config CameraInfo `json:"config"`
}

// InfoOf builds the metadata payload for a camera.
func InfoOf(cam config.CameraConfig) Info {
	return Info{Config: CameraInfo{
		Path:          cam.Device,
		Name:          cam.Name,
		Driver:        DriverLabel,
		TriggerScheme: TriggerScheme,
		Resolution:    Resolution{Width: cam.ResolutionX, Height: cam.ResolutionY},
	}}
}

// Error is returned for a transport failure or a non-2xx response.
type Error struct {
	Kind       Kind
	URL        string
	StatusCode int // 0 on transport failure
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("put %s %s: %v", e.Kind, e.URL, e.Err)
	}
	return fmt.Sprintf("put %s %s: status %d: %s", e.Kind, e.URL, e.StatusCode, e.Body)
}

func (e *Error) Unwrap() error { return e.Err }

// Client performs the PUT requests. It never retries.
type Client struct {
	HTTP *resty.Client
}

// New creates a Client. timeout 0 means no client-side timeout.
func New(timeout time.Duration) *Client {
	r := resty.New()
	r.SetRetryCount(0)
	if timeout > 0 {
		r.SetTimeout(timeout)
	}
	return &Client{HTTP: r}
}

// PutImage sends raw image bytes to url.
func (c *Client) PutImage(ctx context.Context, url string, image []byte, cred Credentials) error {
	resp, err := c.HTTP.R().
		SetContext(ctx).
		SetHeader("Content-Type", "image/jpg").
		SetHeader("Accept", "*/*").
		// Informational only: net/http sends the length of the body it writes.
		SetHeader("Content-Length", strconv.Itoa(len(image))).
		SetHeader("Token", cred.Token).
		SetHeader("Fingerprint", cred.Fingerprint).
		SetBody(image).
		Put(url)
	return check(KindImage, url, resp, err)
}

// PutInfo sends the camera metadata as JSON to url.
func (c *Client) PutInfo(ctx context.Context, url string, info Info, cred Credentials) error {
	resp, err := c.HTTP.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Token", cred.Token).
		SetHeader("Fingerprint", cred.Fingerprint).
		SetBody(info).
		Put(url)
	return check(KindInfo, url, resp, err)
}

func check(kind Kind, url string, resp *resty.Response, err error) error {
	if err != nil {
		return &Error{Kind: kind, URL: url, Err: err}
	}
	if !resp.IsSuccess() {
		return &Error{Kind: kind, URL: url, StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	debug.Trace("PUT %s %s -> %d", kind, url, resp.StatusCode())
	return nil
}
