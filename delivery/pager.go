// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/drover-build/drover/lib/jobref"
	"github.com/drover-build/drover/lib/secretmask"
)

// DefaultPageSize is the page cut threshold when none is configured.
const DefaultPageSize = 1 << 20

// PageWriter stages a timeline record's full log as a sequence of
// page files. Lines are masked and appended to the current page
// file; when the page passes the size threshold it is cut on the
// line boundary and enqueued for upload. Close cuts the final
// partial page.
//
// PageWriter is an io.WriteCloser, so it can sit directly behind a
// process's output pipe: raw writes are split into lines internally,
// with an unterminated tail buffered until the next write or Close.
// Safe for concurrent use; the step runner writes stdout and stderr
// from separate goroutines.
type PageWriter struct {
	record  jobref.RecordID
	dir     string
	limit   int
	masker  *secretmask.Masker
	enqueue func(Page)

	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	path    string
	size    int
	index   int
	partial []byte
	closed  bool
}

// NewPageWriter creates a PageWriter staging pages for record id
// under dir. A non-positive pageSize means DefaultPageSize. The
// first write creates the directory and the first page file.
func NewPageWriter(id jobref.RecordID, dir string, pageSize int, masker *secretmask.Masker, enqueue func(Page)) *PageWriter {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &PageWriter{
		record:  id,
		dir:     dir,
		limit:   pageSize,
		masker:  masker,
		enqueue: enqueue,
	}
}

// WriteLine appends one line to the log.
func (pw *PageWriter) WriteLine(line string) error {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	return pw.writeLineLocked(line)
}

// Write implements io.Writer. Complete lines are appended to the
// log; a trailing unterminated fragment is held until it completes.
// Carriage returns before the newline are stripped.
func (pw *PageWriter) Write(p []byte) (int, error) {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if pw.closed {
		return 0, errors.New("page writer is closed")
	}

	pw.partial = append(pw.partial, p...)
	for {
		newline := bytes.IndexByte(pw.partial, '\n')
		if newline < 0 {
			return len(p), nil
		}
		line := strings.TrimSuffix(string(pw.partial[:newline]), "\r")
		pw.partial = pw.partial[newline+1:]
		if err := pw.writeLineLocked(line); err != nil {
			return len(p), err
		}
	}
}

// Close writes any buffered fragment as a final line and cuts the
// remaining partial page. Safe to call more than once.
func (pw *PageWriter) Close() error {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if pw.closed {
		return nil
	}

	if len(pw.partial) > 0 {
		line := strings.TrimSuffix(string(pw.partial), "\r")
		pw.partial = nil
		if err := pw.writeLineLocked(line); err != nil {
			pw.closed = true
			return err
		}
	}
	pw.closed = true

	if pw.file == nil {
		return nil
	}
	return pw.cutLocked()
}

func (pw *PageWriter) writeLineLocked(line string) error {
	if pw.closed {
		return errors.New("page writer is closed")
	}
	if pw.file == nil {
		if err := pw.openPageLocked(); err != nil {
			return err
		}
	}

	n, err := pw.writer.WriteString(pw.masker.Mask(line) + "\n")
	pw.size += n
	if err != nil {
		return fmt.Errorf("writing page %s: %w", pw.path, err)
	}

	if pw.size >= pw.limit {
		return pw.cutLocked()
	}
	return nil
}

func (pw *PageWriter) openPageLocked() error {
	if err := os.MkdirAll(pw.dir, 0755); err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	path := filepath.Join(pw.dir, fmt.Sprintf("%s-%04d.log", pw.record, pw.index))
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating page file: %w", err)
	}
	pw.file = file
	pw.writer = bufio.NewWriter(file)
	pw.path = path
	pw.size = 0
	return nil
}

// cutLocked finishes the current page file and hands it to the
// queue.
func (pw *PageWriter) cutLocked() error {
	if err := pw.writer.Flush(); err != nil {
		pw.file.Close()
		return fmt.Errorf("flushing page %s: %w", pw.path, err)
	}
	if err := pw.file.Close(); err != nil {
		return fmt.Errorf("closing page %s: %w", pw.path, err)
	}
	page := Page{Record: pw.record, Path: pw.path}
	pw.file = nil
	pw.writer = nil
	pw.size = 0
	pw.index++
	pw.enqueue(page)
	return nil
}
