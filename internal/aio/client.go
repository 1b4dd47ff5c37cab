// Package aio is a minimal Adafruit IO REST client: feed data submission
// and the time integration.
package aio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultBaseURL = "https://io.adafruit.com"

type Client struct {
	baseURL string
	user    string
	key     string
	http    *http.Client
}

func NewClient(baseURL, user, key string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		user:    user,
		key:     key,
		http:    &http.Client{Timeout: timeout},
	}
}

// DataPoint is the body of a feed data submission. Location fields are
// omitted when unset.
type DataPoint struct {
	Value string   `json:"value"`
	Lat   *float64 `json:"lat,omitempty"`
	Lon   *float64 `json:"lon,omitempty"`
	Ele   *float64 `json:"ele,omitempty"`
}

// TimeStruct mirrors /integrations/time/struct.
type TimeStruct struct {
	Year  int `json:"year"`
	Mon   int `json:"mon"`
	MDay  int `json:"mday"`
	Hour  int `json:"hour"`
	Min   int `json:"min"`
	Sec   int `json:"sec"`
	WDay  int `json:"wday"`
	YDay  int `json:"yday"`
	IsDST int `json:"isdst"`
}

// Time converts the struct into a time.Time in loc.
func (ts TimeStruct) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(ts.Year, time.Month(ts.Mon), ts.MDay, ts.Hour, ts.Min, ts.Sec, 0, loc)
}

// APIError is a non-2xx response from Adafruit IO.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("adafruit io: status %d: %s", e.Status, e.Body)
}

// SendData appends one data point to feedKey.
func (c *Client) SendData(ctx context.Context, feedKey string, p DataPoint) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal data point: %w", err)
	}
	u := fmt.Sprintf("%s/api/v2/%s/feeds/%s/data", c.baseURL, url.PathEscape(c.user), url.PathEscape(feedKey))
	return c.do(ctx, http.MethodPost, u, bytes.NewReader(body), nil)
}

// ReceiveTime fetches the current time from the time integration. tz is an
// optional IANA zone name.
func (c *Client) ReceiveTime(ctx context.Context, tz string) (TimeStruct, error) {
	u := fmt.Sprintf("%s/api/v2/%s/integrations/time/struct", c.baseURL, url.PathEscape(c.user))
	if tz != "" {
		u += "?tz=" + url.QueryEscape(tz)
	}
	var ts TimeStruct
	if err := c.do(ctx, http.MethodGet, u, nil, &ts); err != nil {
		return TimeStruct{}, err
	}
	if ts.Year == 0 || ts.Mon < 1 || ts.Mon > 12 || ts.Min < 0 || ts.Min > 59 {
		return TimeStruct{}, fmt.Errorf("adafruit io: malformed time %+v", ts)
	}
	return ts, nil
}

func (c *Client) do(ctx context.Context, method, u string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-AIO-Key", c.key)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
