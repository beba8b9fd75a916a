// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/drover-build/drover/lib/codec"
	"github.com/drover-build/drover/lib/jobref"
	"github.com/drover-build/drover/lib/schema/timeline"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewFromToken(server.URL, "test-token", 5*time.Second)
}

func decodeBody(t *testing.T, request *http.Request, target any) {
	t.Helper()
	data, err := io.ReadAll(request.Body)
	if err != nil {
		t.Fatalf("reading request body: %v", err)
	}
	if err := codec.Unmarshal(data, target); err != nil {
		t.Fatalf("decoding request body: %v", err)
	}
}

func writeCBOR(t *testing.T, writer http.ResponseWriter, status int, body any) {
	t.Helper()
	data, err := codec.Marshal(body)
	if err != nil {
		t.Fatalf("encoding response: %v", err)
	}
	writer.Header().Set("Content-Type", "application/cbor")
	writer.WriteHeader(status)
	writer.Write(data)
}

func TestNew(t *testing.T) {
	t.Run("reads and trims token file", func(t *testing.T) {
		tokenPath := filepath.Join(t.TempDir(), "token")
		if err := os.WriteFile(tokenPath, []byte("  secret-token\n"), 0600); err != nil {
			t.Fatalf("writing token file: %v", err)
		}
		client, err := New("http://coordinator.local/", tokenPath, time.Second)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if client.token != "secret-token" {
			t.Errorf("token not trimmed: %q", client.token)
		}
		if client.baseURL != "http://coordinator.local" {
			t.Errorf("base URL not trimmed: %q", client.baseURL)
		}
	})

	t.Run("missing token file", func(t *testing.T) {
		_, err := New("http://coordinator.local", "/nonexistent/token", time.Second)
		if err == nil {
			t.Fatal("expected error for missing token file")
		}
	})

	t.Run("empty token file", func(t *testing.T) {
		tokenPath := filepath.Join(t.TempDir(), "token")
		if err := os.WriteFile(tokenPath, []byte("\n"), 0600); err != nil {
			t.Fatalf("writing token file: %v", err)
		}
		_, err := New("http://coordinator.local", tokenPath, time.Second)
		if err == nil {
			t.Fatal("expected error for empty token file")
		}
	})
}

func TestUpdateTimelineRecords(t *testing.T) {
	plan := jobref.NewPlanID()
	tl := jobref.NewTimelineID()
	name := "compile"
	state := timeline.StateInProgress

	var gotPath, gotAuth, gotContentType string
	var gotBatch recordBatch
	client := testClient(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", request.Method)
		}
		gotPath = request.URL.Path
		gotAuth = request.Header.Get("Authorization")
		gotContentType = request.Header.Get("Content-Type")
		decodeBody(t, request, &gotBatch)
		writer.WriteHeader(http.StatusOK)
	})

	records := []timeline.Record{{ID: jobref.NewRecordID(), Name: name, State: &state}}
	if err := client.UpdateTimelineRecords(t.Context(), plan, tl, records); err != nil {
		t.Fatalf("UpdateTimelineRecords: %v", err)
	}

	wantPath := fmt.Sprintf("/plans/%s/timelines/%s/records", plan, tl)
	if gotPath != wantPath {
		t.Errorf("path: got %s, want %s", gotPath, wantPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("authorization: got %q", gotAuth)
	}
	if gotContentType != "application/cbor" {
		t.Errorf("content type: got %q", gotContentType)
	}
	if len(gotBatch.Records) != 1 || gotBatch.Records[0].Name != name {
		t.Errorf("decoded batch: %+v", gotBatch)
	}
	if gotBatch.Records[0].State == nil || *gotBatch.Records[0].State != timeline.StateInProgress {
		t.Errorf("state lost in transit: %+v", gotBatch.Records[0].State)
	}
}

func TestAppendTimelineFeed(t *testing.T) {
	plan := jobref.NewPlanID()
	tl := jobref.NewTimelineID()
	job := jobref.NewJobID()

	var gotPath string
	var gotBatch feedBatch
	client := testClient(t, func(writer http.ResponseWriter, request *http.Request) {
		gotPath = request.URL.Path
		decodeBody(t, request, &gotBatch)
		writer.WriteHeader(http.StatusOK)
	})

	lines := []string{"line one", "line two"}
	if err := client.AppendTimelineFeed(t.Context(), plan, tl, job, lines); err != nil {
		t.Fatalf("AppendTimelineFeed: %v", err)
	}

	wantPath := fmt.Sprintf("/plans/%s/timelines/%s/jobs/%s/feed", plan, tl, job)
	if gotPath != wantPath {
		t.Errorf("path: got %s, want %s", gotPath, wantPath)
	}
	if len(gotBatch.Lines) != 2 || gotBatch.Lines[1] != "line two" {
		t.Errorf("decoded lines: %v", gotBatch.Lines)
	}
}

func TestCreateLog(t *testing.T) {
	plan := jobref.NewPlanID()

	client := testClient(t, func(writer http.ResponseWriter, request *http.Request) {
		var body createLogRequest
		decodeBody(t, request, &body)
		if body.Path != "logs/steps/compile" {
			t.Errorf("log path: got %q", body.Path)
		}
		writeCBOR(t, writer, http.StatusCreated, timeline.LogRef{ID: 42, Path: body.Path})
	})

	ref, err := client.CreateLog(t.Context(), plan, "logs/steps/compile")
	if err != nil {
		t.Fatalf("CreateLog: %v", err)
	}
	if ref.ID != 42 || ref.Path != "logs/steps/compile" {
		t.Errorf("log ref: %+v", ref)
	}
}

func TestUploadLogFile(t *testing.T) {
	plan := jobref.NewPlanID()
	content := "page one line\npage one more\n"
	localPath := filepath.Join(t.TempDir(), "page.log")
	if err := os.WriteFile(localPath, []byte(content), 0644); err != nil {
		t.Fatalf("writing page file: %v", err)
	}

	var gotPath, gotContentType string
	var gotBody []byte
	client := testClient(t, func(writer http.ResponseWriter, request *http.Request) {
		gotPath = request.URL.Path
		gotContentType = request.Header.Get("Content-Type")
		var err error
		gotBody, err = io.ReadAll(request.Body)
		if err != nil {
			t.Fatalf("reading upload body: %v", err)
		}
		writer.WriteHeader(http.StatusOK)
	})

	if err := client.UploadLogFile(t.Context(), plan, 42, localPath); err != nil {
		t.Fatalf("UploadLogFile: %v", err)
	}

	wantPath := fmt.Sprintf("/plans/%s/logs/42", plan)
	if gotPath != wantPath {
		t.Errorf("path: got %s, want %s", gotPath, wantPath)
	}
	if gotContentType != "application/octet-stream" {
		t.Errorf("content type: got %q", gotContentType)
	}
	if string(gotBody) != content {
		t.Errorf("body: got %q, want %q", gotBody, content)
	}
}

func TestUploadLogFileMissingFile(t *testing.T) {
	client := testClient(t, func(writer http.ResponseWriter, request *http.Request) {
		t.Error("no request expected for a missing file")
	})
	err := client.UploadLogFile(t.Context(), jobref.NewPlanID(), 1, "/nonexistent/page.log")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestUploadFileToContainer(t *testing.T) {
	t.Run("compressible content is zstd encoded", func(t *testing.T) {
		content := strings.Repeat("all work and no play makes a dull build\n", 200)
		localPath := filepath.Join(t.TempDir(), "artifact.txt")
		if err := os.WriteFile(localPath, []byte(content), 0644); err != nil {
			t.Fatalf("writing artifact: %v", err)
		}

		var gotRequest *http.Request
		var gotBody []byte
		client := testClient(t, func(writer http.ResponseWriter, request *http.Request) {
			gotRequest = request.Clone(request.Context())
			var err error
			gotBody, err = io.ReadAll(request.Body)
			if err != nil {
				t.Fatalf("reading upload body: %v", err)
			}
			writer.WriteHeader(http.StatusCreated)
		})

		container := jobref.ContainerID(900)
		if err := client.UploadFileToContainer(t.Context(), container, "drop/artifact.txt", localPath); err != nil {
			t.Fatalf("UploadFileToContainer: %v", err)
		}

		if gotRequest.Method != http.MethodPut {
			t.Errorf("method: got %s", gotRequest.Method)
		}
		if gotRequest.URL.Path != "/containers/900" {
			t.Errorf("path: got %s", gotRequest.URL.Path)
		}
		if got := gotRequest.URL.Query().Get("itemPath"); got != "drop/artifact.txt" {
			t.Errorf("itemPath: got %q", got)
		}
		if got := gotRequest.Header.Get("Content-Encoding"); got != "zstd" {
			t.Errorf("content encoding: got %q, want zstd", got)
		}
		if got := gotRequest.Header.Get("X-Uncompressed-Length"); got != fmt.Sprint(len(content)) {
			t.Errorf("uncompressed length: got %q, want %d", got, len(content))
		}
		// The content ID hashes the uncompressed bytes, so it is
		// independent of the encoding decision.
		wantID := blake3.Sum256([]byte(content))
		if got := gotRequest.Header.Get("Content-Id"); got != hex.EncodeToString(wantID[:]) {
			t.Errorf("content ID: got %q, want blake3 of raw content", got)
		}
		if len(gotBody) >= len(content) {
			t.Errorf("body not compressed: %d bytes vs %d original", len(gotBody), len(content))
		}

		decoder, err := zstd.NewReader(nil)
		if err != nil {
			t.Fatalf("zstd reader: %v", err)
		}
		defer decoder.Close()
		decoded, err := decoder.DecodeAll(gotBody, nil)
		if err != nil {
			t.Fatalf("decompressing body: %v", err)
		}
		if string(decoded) != content {
			t.Error("decompressed body does not match original content")
		}
	})

	t.Run("incompressible content is sent raw", func(t *testing.T) {
		// Pseudo-random bytes do not compress; the client must not
		// pay for an encoding that grows the payload.
		content := make([]byte, 4096)
		seed := uint32(2463534242)
		for i := range content {
			seed ^= seed << 13
			seed ^= seed >> 17
			seed ^= seed << 5
			content[i] = byte(seed)
		}
		localPath := filepath.Join(t.TempDir(), "artifact.bin")
		if err := os.WriteFile(localPath, content, 0644); err != nil {
			t.Fatalf("writing artifact: %v", err)
		}

		var gotEncoding string
		var gotBody []byte
		client := testClient(t, func(writer http.ResponseWriter, request *http.Request) {
			gotEncoding = request.Header.Get("Content-Encoding")
			var err error
			gotBody, err = io.ReadAll(request.Body)
			if err != nil {
				t.Fatalf("reading upload body: %v", err)
			}
			writer.WriteHeader(http.StatusCreated)
		})

		if err := client.UploadFileToContainer(t.Context(), 900, "drop/artifact.bin", localPath); err != nil {
			t.Fatalf("UploadFileToContainer: %v", err)
		}
		if gotEncoding != "" {
			t.Errorf("content encoding: got %q, want none", gotEncoding)
		}
		if string(gotBody) != string(content) {
			t.Error("raw body does not match original content")
		}
	})
}

func TestPostBuildArtifact(t *testing.T) {
	project := jobref.ProjectID(jobref.NewPlanID())

	var gotPath string
	var gotArtifact timeline.Artifact
	client := testClient(t, func(writer http.ResponseWriter, request *http.Request) {
		gotPath = request.URL.Path
		decodeBody(t, request, &gotArtifact)
		writer.WriteHeader(http.StatusCreated)
	})

	artifact := timeline.Artifact{
		Name: "drop",
		Resource: timeline.ArtifactResource{
			Type: "container",
			Data: "#/900/drop",
		},
	}
	if err := client.PostBuildArtifact(t.Context(), project, 12, artifact); err != nil {
		t.Fatalf("PostBuildArtifact: %v", err)
	}

	wantPath := fmt.Sprintf("/projects/%s/builds/12/artifacts", project)
	if gotPath != wantPath {
		t.Errorf("path: got %s, want %s", gotPath, wantPath)
	}
	if gotArtifact.Name != "drop" || gotArtifact.Resource.Data != "#/900/drop" {
		t.Errorf("decoded artifact: %+v", gotArtifact)
	}
}

func TestRenewJobRequest(t *testing.T) {
	lockToken := jobref.LockToken(jobref.NewJobID())
	lockedUntil := time.Now().Add(5 * time.Minute).UTC().Truncate(time.Millisecond)

	var gotMethod, gotPath string
	var gotRenew renewRequest
	client := testClient(t, func(writer http.ResponseWriter, request *http.Request) {
		gotMethod = request.Method
		gotPath = request.URL.Path
		decodeBody(t, request, &gotRenew)
		writeCBOR(t, writer, http.StatusOK, JobRequest{RequestID: 4411, LockedUntil: &lockedUntil})
	})

	renewed, err := client.RenewJobRequest(t.Context(), 3, 4411, lockToken)
	if err != nil {
		t.Fatalf("RenewJobRequest: %v", err)
	}

	if gotMethod != http.MethodPatch {
		t.Errorf("method: got %s, want PATCH", gotMethod)
	}
	if gotPath != "/pools/3/requests/4411" {
		t.Errorf("path: got %s", gotPath)
	}
	if gotRenew.LockToken != lockToken {
		t.Errorf("lock token: got %s, want %s", gotRenew.LockToken, lockToken)
	}
	if renewed.RequestID != 4411 {
		t.Errorf("request ID: got %d", renewed.RequestID)
	}
	if renewed.LockedUntil == nil || !renewed.LockedUntil.Equal(lockedUntil) {
		t.Errorf("locked until: got %v, want %v", renewed.LockedUntil, lockedUntil)
	}
}

func TestServiceErrorFromEnvelope(t *testing.T) {
	client := testClient(t, func(writer http.ResponseWriter, request *http.Request) {
		writeCBOR(t, writer, http.StatusConflict, errorEnvelope{Error: "lease expired"})
	})

	err := client.AppendTimelineFeed(t.Context(), jobref.NewPlanID(), jobref.NewTimelineID(), jobref.NewJobID(), []string{"x"})
	if err == nil {
		t.Fatal("expected error from 409 response")
	}

	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected *ServiceError, got %T: %v", err, err)
	}
	if svcErr.Status != http.StatusConflict {
		t.Errorf("status: got %d, want 409", svcErr.Status)
	}
	if svcErr.Message != "lease expired" {
		t.Errorf("message: got %q", svcErr.Message)
	}
	if !strings.Contains(svcErr.Error(), "append timeline feed") {
		t.Errorf("error text missing operation: %s", svcErr.Error())
	}
}

func TestServiceErrorWithoutBody(t *testing.T) {
	client := testClient(t, func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.CreateLog(t.Context(), jobref.NewPlanID(), "logs/1")
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected *ServiceError, got %T: %v", err, err)
	}
	if svcErr.Status != http.StatusBadGateway {
		t.Errorf("status: got %d", svcErr.Status)
	}
	if svcErr.Message != "" {
		t.Errorf("message should be empty, got %q", svcErr.Message)
	}
}
