// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/drover-build/drover/lib/codec"
	"github.com/drover-build/drover/lib/jobref"
	"github.com/drover-build/drover/lib/schema/timeline"
)

// maxResponseSize is the maximum size of a CBOR response body. The
// coordinator's responses are small (a log ref, a job request); a
// response this large means something is wrong on the other end.
const maxResponseSize = 1024 * 1024

// Client talks to the coordinator. All methods are safe for
// concurrent use; the delivery queues call them from independent
// flush goroutines.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates an authenticated client. The bearer token is read once
// from tokenPath; surrounding whitespace is trimmed. Returns an error
// if the token file cannot be read or is empty.
func New(baseURL, tokenPath string, timeout time.Duration) (*Client, error) {
	tokenBytes, err := os.ReadFile(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("reading coordinator token from %s: %w", tokenPath, err)
	}
	token := strings.TrimSpace(string(tokenBytes))
	if token == "" {
		return nil, fmt.Errorf("coordinator token file %s is empty", tokenPath)
	}
	return NewFromToken(baseURL, token, timeout), nil
}

// NewFromToken creates a client with a pre-loaded token. Useful in
// tests and for callers that manage token lifecycle themselves.
func NewFromToken(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// UpdateTimelineRecords ships a batch of sparse record updates. The
// coordinator merges each record by ID, so re-sending a record is
// harmless.
func (c *Client) UpdateTimelineRecords(ctx context.Context, plan jobref.PlanID, tl jobref.TimelineID, records []timeline.Record) error {
	path := fmt.Sprintf("plans/%s/timelines/%s/records", plan, tl)
	return c.call(ctx, "update timeline records", http.MethodPost, path, nil, recordBatch{Records: records}, nil)
}

// AppendTimelineFeed appends console lines to the job's live feed.
// Lines must already be truncated and masked; the coordinator stores
// them verbatim.
func (c *Client) AppendTimelineFeed(ctx context.Context, plan jobref.PlanID, tl jobref.TimelineID, job jobref.JobID, lines []string) error {
	path := fmt.Sprintf("plans/%s/timelines/%s/jobs/%s/feed", plan, tl, job)
	return c.call(ctx, "append timeline feed", http.MethodPost, path, nil, feedBatch{Lines: lines}, nil)
}

// CreateLog allocates a log under the given coordinator-side path and
// returns its reference. Creation is keyed by path: creating the same
// path twice returns the same log.
func (c *Client) CreateLog(ctx context.Context, plan jobref.PlanID, logPath string) (timeline.LogRef, error) {
	var ref timeline.LogRef
	path := fmt.Sprintf("plans/%s/logs", plan)
	err := c.call(ctx, "create log", http.MethodPost, path, nil, createLogRequest{Path: logPath}, &ref)
	if err != nil {
		return timeline.LogRef{}, err
	}
	return ref, nil
}

// UploadLogFile streams the file at localPath as content of an
// already-created log. The upload replaces nothing: each call appends
// a page to the log in arrival order, which is why the delivery layer
// serializes uploads per log.
func (c *Client) UploadLogFile(ctx context.Context, plan jobref.PlanID, logID int, localPath string) error {
	const op = "upload log file"

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%s: opening %s: %w", op, localPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("%s: stat %s: %w", op, localPath, err)
	}

	path := fmt.Sprintf("plans/%s/logs/%d", plan, logID)
	request, err := c.newRequest(ctx, http.MethodPost, path, nil, file)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	request.Header.Set("Content-Type", "application/octet-stream")
	request.ContentLength = info.Size()

	return c.send(request, op, nil)
}

// PostBuildArtifact registers artifact metadata on the build. The
// artifact's content must already be in a file container.
func (c *Client) PostBuildArtifact(ctx context.Context, project jobref.ProjectID, build jobref.BuildID, artifact timeline.Artifact) error {
	path := fmt.Sprintf("projects/%s/builds/%s/artifacts", project, build)
	return c.call(ctx, "post build artifact", http.MethodPost, path, nil, artifact, nil)
}

// RenewJobRequest extends the worker's lease on a claimed job
// request. The lock token proves the claim; it never changes during a
// run.
func (c *Client) RenewJobRequest(ctx context.Context, pool jobref.PoolID, request jobref.RequestID, lockToken jobref.LockToken) (JobRequest, error) {
	var renewed JobRequest
	path := fmt.Sprintf("pools/%s/requests/%s", pool, request)
	err := c.call(ctx, "renew job request", http.MethodPatch, path, nil, renewRequest{LockToken: lockToken}, &renewed)
	if err != nil {
		return JobRequest{}, err
	}
	return renewed, nil
}

// call encodes body as CBOR, sends it, and decodes the CBOR response
// into result (when result is non-nil and the response has a body).
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body, result any) error {
	var reader io.Reader
	var length int64
	if body != nil {
		encoded, err := codec.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", op, err)
		}
		reader = bytes.NewReader(encoded)
		length = int64(len(encoded))
	}

	request, err := c.newRequest(ctx, method, path, query, reader)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/cbor")
		request.ContentLength = length
	}

	return c.send(request, op, result)
}

// newRequest builds a request against the coordinator base URL with
// the bearer token attached.
func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	target := c.baseURL + "/" + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	request, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+c.token)
	request.Header.Set("Accept", "application/cbor")
	return request, nil
}

// send executes the request and handles the shared response protocol:
// non-2xx decodes into a *ServiceError, 2xx bodies decode into result.
func (c *Client) send(request *http.Request, op string, result any) error {
	response, err := c.http.Do(request)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer response.Body.Close()

	data, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%s: reading response: %w", op, err)
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		svcErr := &ServiceError{Op: op, Status: response.StatusCode}
		var envelope errorEnvelope
		if len(data) > 0 && codec.Unmarshal(data, &envelope) == nil {
			svcErr.Message = envelope.Error
		}
		return svcErr
	}

	if result != nil && len(data) > 0 {
		if err := codec.Unmarshal(data, result); err != nil {
			return fmt.Errorf("%s: decoding response: %w", op, err)
		}
	}
	return nil
}
