// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/drover-build/drover/lib/jobref"
)

// zstdEncoder is reused across uploads to avoid repeated
// initialization overhead. zstd.Encoder is safe for concurrent
// EncodeAll use.
var zstdEncoder *zstd.Encoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("coordinator: zstd encoder initialization failed: " + err.Error())
	}
}

// UploadFileToContainer puts the file at localPath into the build's
// file container under itemPath. The file is read fully into memory
// to hash and compress it: the request carries a BLAKE3 content ID
// and the uncompressed length in headers, and the body is
// zstd-compressed when that actually saves bytes. Re-uploading the
// same item path replaces the previous content.
func (c *Client) UploadFileToContainer(ctx context.Context, container jobref.ContainerID, itemPath, localPath string) error {
	const op = "upload file to container"

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("%s: reading %s: %w", op, localPath, err)
	}

	contentID := blake3.Sum256(data)

	body := data
	compressed := false
	if candidate := zstdEncoder.EncodeAll(data, nil); len(candidate) < len(data) {
		body = candidate
		compressed = true
	}

	query := url.Values{"itemPath": []string{itemPath}}
	request, err := c.newRequest(ctx, http.MethodPut, "containers/"+container.String(), query, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	request.Header.Set("Content-Type", "application/octet-stream")
	request.Header.Set("Content-Id", hex.EncodeToString(contentID[:]))
	request.Header.Set("X-Uncompressed-Length", strconv.Itoa(len(data)))
	if compressed {
		request.Header.Set("Content-Encoding", "zstd")
	}
	request.ContentLength = int64(len(body))

	return c.send(request, op, nil)
}
