package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cuemby/certorch/pkg/types"
	"github.com/google/uuid"
)

// Client is the worker-side HTTP client for the Orchestrator RPC table,
// implementing workerpipeline.OrchestratorClient. Retry/backoff is grounded
// on cenkalti/backoff/v4's exponential-backoff retry loop, carrying the
// 250-500ms throttle window and 10s overall deadline spec.md §5 assigns to
// worker<->orchestrator calls.
type Client struct {
	baseURL   string
	principal string
	http      *http.Client
}

// NewClient builds a Client addressing baseURL (e.g. "http://orchestrator:8443")
// authenticating as principal.
func NewClient(baseURL, principal string) *Client {
	return &Client{
		baseURL:   baseURL,
		principal: principal,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) call(ctx context.Context, method string, req, out any) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = 10 * time.Second
	bo := backoff.WithContext(policy, ctx)

	return backoff.Retry(func() error {
		env, status, err := c.doOnce(ctx, method, req)
		if err != nil {
			return err // network errors are retryable
		}
		if env.Error != nil {
			oe := &types.Error{Kind: types.Kind(env.Error.Kind), Detail: env.Error.Detail}
			if status >= 500 {
				return oe // retryable
			}
			return backoff.Permanent(oe)
		}
		if out != nil {
			raw, err := json.Marshal(env.Result)
			if err != nil {
				return backoff.Permanent(err)
			}
			if err := json.Unmarshal(raw, out); err != nil {
				return backoff.Permanent(err)
			}
		}
		return nil
	}, bo)
}

func (c *Client) doOnce(ctx context.Context, method string, reqBody any) (envelope, int, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return envelope{}, 0, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/"+method, &buf)
	if err != nil {
		return envelope{}, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Principal", c.principal)
	httpReq.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return envelope{}, 0, err
	}
	defer resp.Body.Close()

	// A 204 carries no body on the wire, so the NoTasksAvailable envelope the
	// server writes alongside it never arrives; rebuild it from the status.
	if resp.StatusCode == http.StatusNoContent {
		return envelope{Error: &errorBody{Kind: string(types.KindNoTasksAvailable)}}, resp.StatusCode, nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return envelope{}, resp.StatusCode, fmt.Errorf("decoding response: %w", err)
	}
	return env, resp.StatusCode, nil
}

func (c *Client) DispenseTask(ctx context.Context) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, "dispenseTask", struct{}{}, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) GetRegistration(ctx context.Context, id string) (*types.Registration, error) {
	var out types.Registration
	if err := c.call(ctx, "getRegistration", idRequest{ID: id}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateRegistration(ctx context.Context, id string, state types.State, reason string) error {
	return c.call(ctx, "updateRegistration", updateRegistrationRequest{ID: id, State: state, Reason: reason}, nil)
}

func (c *Client) QueueTask(ctx context.Context, id string, at time.Time) error {
	return c.call(ctx, "queueTask", queueTaskRequest{ID: id, At: at}, nil)
}

func (c *Client) UploadCertificate(ctx context.Context, id string, pair types.EncryptedPair) error {
	return c.call(ctx, "uploadCertificate", uploadCertificateRequest{ID: id, Pair: pair}, nil)
}
