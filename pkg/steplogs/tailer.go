// Package steplogs tails the append-only log objects written by deployment plan steps.
package steplogs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/logging"
)

// ErrLogNotFound is returned when a step has not produced its log object yet
var ErrLogNotFound = errors.New("step log not found")

// LogLine is one record of a step log
type LogLine struct {
	Timestamp time.Time
	Text      string
}

// Tailer returns the lines of one step log that were not returned before
type Tailer interface {
	Lines(ctx context.Context) ([]LogLine, error)
}

// record is the wire format of one log line
type record struct {
	Timestamp int64  `json:"timestamp"`
	Data      string `json:"data"`
}

// S3Tailer reads a step log object from S3. It is not safe for concurrent use.
type S3Tailer struct {
	client   s3iface.S3API
	bucket   string
	key      string
	consumed int
	logger   logging.Logger
}

// NewS3Tailer creates a tailer for one log object
func NewS3Tailer(client s3iface.S3API, bucket, key string, logger logging.Logger) *S3Tailer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &S3Tailer{client: client, bucket: bucket, key: key, logger: logger}
}

// Lines fetches the object and returns the records appended since the last call.
// A missing object yields no lines.
func (t *S3Tailer) Lines(ctx context.Context) ([]LogLine, error) {
	body, modified, err := t.fetch(ctx)
	if errors.Is(err, ErrLogNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var lines []LogLine
	index := 0
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		index++
		if index <= t.consumed {
			continue
		}

		var r record
		if err := json.Unmarshal(raw, &r); err != nil {
			t.logger.Debug("skipping malformed log record", logging.F("key", t.key), logging.F("line", index), logging.Err(err))
			continue
		}

		ts := modified
		if r.Timestamp > 0 {
			ts = time.UnixMilli(r.Timestamp)
		}
		lines = append(lines, LogLine{Timestamp: ts, Text: r.Data})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read step log %s: %w", t.key, err)
	}

	if index > t.consumed {
		t.consumed = index
	}
	return lines, nil
}

func (t *S3Tailer) fetch(ctx context.Context) ([]byte, time.Time, error) {
	start := time.Now()
	out, err := t.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.key),
	})
	t.logger.LogPoll("s3", "GetObject", time.Since(start), err)
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case s3.ErrCodeNoSuchKey, "NotFound":
				return nil, time.Time{}, ErrLogNotFound
			}
		}
		return nil, time.Time{}, fmt.Errorf("failed to get step log %s: %w", t.key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to read step log %s: %w", t.key, err)
	}
	return body, aws.TimeValue(out.LastModified), nil
}

// NoopTailer is used for steps that never write external logs
type NoopTailer struct{}

// Lines always returns nothing
func (NoopTailer) Lines(context.Context) ([]LogLine, error) {
	return nil, nil
}
