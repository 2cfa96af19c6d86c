// Package cloud talks to the ThingSpeak-style channel API: readings are
// written with /update and the remote sprinkler command is read back from the
// channel's command field.
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"lora-gateway/internal/config"
	"lora-gateway/internal/node"
)

// The dashboard writes the sprinkler command into field4.
const (
	commandField = 4
	maxBodyBytes = 4 << 10
)

// PublishError is a failed /update call. StatusCode is zero when the
// request never got a response.
type PublishError struct {
	StatusCode int
	Err        error
}

func (e *PublishError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("cloud update: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("cloud update: %v", e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// PollError is a failed command-field read.
type PollError struct {
	StatusCode int
	Err        error
}

func (e *PollError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("cloud poll: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("cloud poll: %v", e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("status %d", e.code) }

type Client struct {
	baseURL    string
	channelID  string
	writeKey   string
	readKey    string
	http       *http.Client
	maxRetries int
	logger     *slog.Logger

	newBackOff func() backoff.BackOff
}

// NewClient builds a client from cfg. A nil httpClient gets one bounded by
// cfg.CloudTimeout.
func NewClient(cfg config.Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.CloudTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.CloudURL, "/"),
		channelID:  cfg.CloudChannelID,
		writeKey:   cfg.CloudWriteKey,
		readKey:    cfg.CloudReadKey,
		http:       httpClient,
		maxRetries: cfg.CloudMaxRetries,
		logger:     logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}
}

// Publish writes one reading to the channel: field1 temperature, field2
// humidity, field3 sprinkler state as 1/0.
func (c *Client) Publish(ctx context.Context, r node.SensorReading) error {
	q := url.Values{}
	q.Set("api_key", c.writeKey)
	q.Set("field1", formatFloat(r.Temperature))
	q.Set("field2", formatFloat(r.Humidity))
	q.Set("field3", boolField(r.SprinklerOn))

	body, err := c.send(ctx, http.MethodPost, c.baseURL+"/update?"+q.Encode(), false)
	if err != nil {
		return asPublishError(err)
	}
	c.logger.Debug("cloud: reading published", "entry_id", strings.TrimSpace(string(body)))
	return nil
}

// SetCommand writes the sprinkler command field, the same write the
// dashboard's toggle performs.
func (c *Client) SetCommand(ctx context.Context, on bool) error {
	q := url.Values{}
	q.Set("api_key", c.writeKey)
	q.Set("field"+strconv.Itoa(commandField), boolField(on))

	if _, err := c.send(ctx, http.MethodPost, c.baseURL+"/update?"+q.Encode(), true); err != nil {
		return asPublishError(err)
	}
	c.logger.Info("cloud: sprinkler command set", "on", on)
	return nil
}

// PollCommand reads the last value of the command field. found is false when
// the record has no usable field4 value.
func (c *Client) PollCommand(ctx context.Context) (value string, found bool, err error) {
	q := url.Values{}
	q.Set("api_key", c.readKey)
	u := fmt.Sprintf("%s/channels/%s/fields/%d/last?%s",
		c.baseURL, url.PathEscape(c.channelID), commandField, q.Encode())

	body, err := c.send(ctx, http.MethodGet, u, true)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			return "", false, &PollError{StatusCode: se.code}
		}
		return "", false, &PollError{Err: err}
	}

	var rec map[string]any
	if err := json.Unmarshal(body, &rec); err != nil {
		return "", false, &PollError{Err: fmt.Errorf("decode command record: %w", err)}
	}
	v, ok := rec["field"+strconv.Itoa(commandField)].(string)
	if !ok {
		return "", false, nil
	}
	return v, true, nil
}

// send performs one request, retried on transport errors, 429 and 5xx up to
// maxRetries times. Anything but 200 is a failure. When replayable is false
// the request is only retried if the server provably never stored it, so a
// reading is not written twice.
func (c *Client) send(ctx context.Context, method, u string, replayable bool) ([]byte, error) {
	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if body, err = c.do(req); err != nil && !retryable(err, replayable) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxRetries)), ctx)
	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		c.logger.Warn("cloud: request failed, retrying", "method", method, "error", err, "wait", wait)
	})
	return body, err
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, redact(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return body, &statusError{code: resp.StatusCode}
	}
	return body, nil
}

// retryable never retries a 4xx other than 429. A request that is not
// replayable is retried only when the channel cannot have stored it: the
// connection was never made, or the server rate-limited the write.
func retryable(err error, replayable bool) bool {
	var se *statusError
	if errors.As(err, &se) {
		if se.code == http.StatusTooManyRequests {
			return true
		}
		return replayable && se.code >= 500
	}
	if replayable {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe) && oe.Op == "dial"
}

func asPublishError(err error) *PublishError {
	var se *statusError
	if errors.As(err, &se) {
		return &PublishError{StatusCode: se.code}
	}
	return &PublishError{Err: err}
}

// redact strips the query string (it carries the API key) from transport
// errors before they reach the logs.
func redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		if i := strings.IndexByte(ue.URL, '?'); i >= 0 {
			ue.URL = ue.URL[:i] + "?REDACTED"
		}
	}
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
