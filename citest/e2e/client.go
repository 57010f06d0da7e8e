package e2e_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stippi/code-assistant/pkg/types"
)

// apiClient is a thin HTTP client for the server's own REST API.
//
// The teacher's E2E suite drove the server through the sst/opencode-sdk-go
// typed client. That SDK lives in a sibling package of the teacher's
// monorepo and isn't fetchable standalone, so here we talk to the same
// routes (internal/server/routes.go) directly with net/http instead of
// vendoring or faking the SDK.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{baseURL: baseURL, http: &http.Client{Timeout: 60 * time.Second}}
}

func (c *apiClient) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %d: %s", method, path, resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) createSession(directory, title string) (*types.Session, error) {
	var session types.Session
	err := c.do(http.MethodPost, "/session", map[string]string{
		"directory": directory,
		"title":     title,
	}, &session)
	return &session, err
}

func (c *apiClient) getSession(id string) (*types.Session, error) {
	var session types.Session
	err := c.do(http.MethodGet, "/session/"+id, nil, &session)
	return &session, err
}

func (c *apiClient) listSessions() ([]*types.Session, error) {
	var sessions []*types.Session
	err := c.do(http.MethodGet, "/session", nil, &sessions)
	return sessions, err
}

func (c *apiClient) deleteSession(id string) error {
	return c.do(http.MethodDelete, "/session/"+id, nil, nil)
}

// sendMessageResult is the decoded tail of the server's chunked
// POST /session/{id}/message response: the last JSON-encoded message the
// handler streams out.
type sendMessageResult struct {
	Info  *types.Message `json:"info"`
	Parts []types.Part   `json:"parts"`
}

func (c *apiClient) sendMessage(sessionID, content string) (*sendMessageResult, error) {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/session/"+sessionID+"/message", bytes.NewReader(mustJSON(map[string]string{
		"content": content,
	})))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("POST message: %d: %s", resp.StatusCode, string(raw))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	// The handler streams one or more JSON objects as the turn progresses;
	// only the final decode target matters for these tests, so decode the
	// last top-level object in the chunked body.
	dec := json.NewDecoder(bytes.NewReader(raw))
	var last sendMessageResult
	found := false
	for {
		var msg sendMessageResult
		if err := dec.Decode(&msg); err != nil {
			break
		}
		last = msg
		found = true
	}
	if !found {
		return nil, fmt.Errorf("no decodable message in response body: %s", string(raw))
	}
	return &last, nil
}

func (c *apiClient) getMessages(sessionID string) ([]sendMessageResult, error) {
	var messages []sendMessageResult
	err := c.do(http.MethodGet, "/session/"+sessionID+"/message", nil, &messages)
	return messages, err
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
