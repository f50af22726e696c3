package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	// ErrNotFound is matched by StatusErrors carrying 404.
	ErrNotFound = errors.New("not found")

	// ErrRemoved is matched by StatusErrors carrying 410.
	ErrRemoved = errors.New("removed")
)

// StatusError is an unexpected HTTP status returned by the node.
type StatusError struct {
	Method  string // Method is the request method
	URL     string // URL is the request URL
	Code    int    // Code is the response status
	Message string // Message is the node's error text, if any
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Code)
	}

	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Message)
}

// Unwrap maps well known statuses to the package sentinels.
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusGone:
		return ErrRemoved
	default:
		return nil
	}
}

// do sends a request and checks the status. A non-nil result receives the
// decoded JSON body; a nil result leaves the body to the caller through raw.
func (c *Client) do(method, url, contentType string, body io.Reader, want int, result any) ([]byte, http.Header, error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, nil, fmt.Errorf("build request:\n%w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s:\n%w", method, url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != want {
		var msg struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&msg)

		return nil, nil, &StatusError{Method: method, URL: url, Code: resp.StatusCode, Message: msg.Error}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return nil, nil, fmt.Errorf("decode %s %s:\n%w", method, url, err)
		}
		return nil, resp.Header, nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s %s:\n%w", method, url, err)
	}

	return raw, resp.Header, nil
}

// httpGet performs a GET request and decodes the JSON response.
func (c *Client) httpGet(url string, result any) error {
	_, _, err := c.do(http.MethodGet, url, "", nil, http.StatusOK, result)
	return err
}

// httpPostJSON performs a POST request with JSON body and decodes the JSON response.
func (c *Client) httpPostJSON(url string, body any, want int, result any) error {
	jsonBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body:\n%w", err)
	}

	_, _, err = c.do(http.MethodPost, url, "application/json", bytes.NewReader(jsonBytes), want, result)

	return err
}
