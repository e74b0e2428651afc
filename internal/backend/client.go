// Package backend is the HTTP client of the clinic's remote services: sale
// recording, payment intents and appointments.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// TokenSource supplies the bearer token of the acting session.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed service token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// Config configures the backend client.
type Config struct {
	BaseURL string        `usage:"Base URL of the clinic backend"`
	Token   string        `usage:"Service token for the clinic backend (VETPOS_BACKEND_TOKEN)"`
	Timeout time.Duration `default:"10s" usage:"Backend request timeout"`
}

// StatusError is a non-2xx backend response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend responded %d", e.Code)
	}
	return fmt.Sprintf("backend responded %d: %s", e.Code, e.Message)
}

// Client calls the clinic backend.
type Client struct {
	base   *url.URL
	http   *http.Client
	tokens TokenSource
}

// New creates a Client. Requests are traced through otelhttp.
func New(cfg Config, tokens TokenSource, opts ...otelhttp.Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("backend base url is required")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse backend url")
	}
	if tokens == nil {
		tokens = StaticToken(cfg.Token)
	}
	return &Client{
		base: base,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport, opts...),
		},
		tokens: tokens,
	}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path += path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends a request and returns the body of a 2xx response. Other
// statuses are returned as *StatusError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get token")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Message: decodeErrorMessage(data)}
	}
	return data, nil
}

// decodeErrorMessage extracts "message" (or "error") from an error body.
func decodeErrorMessage(data []byte) string {
	var msg string
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return ""
	}
	_ = d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "message", "error":
			if d.Next() != jx.String {
				return d.Skip()
			}
			v, err := d.Str()
			if err != nil {
				return err
			}
			if msg == "" || key == "message" {
				msg = v
			}
			return nil
		default:
			return d.Skip()
		}
	})
	return msg
}

// decodeID reads an identifier that the backend may send as string or
// number.
func decodeID(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Null:
		return "", d.Null()
	default:
		return "", errors.Errorf("unexpected id type %s", d.Next())
	}
}
