package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const schemaRegistryContentType = "application/vnd.schemaregistry.v1+json"

// ErrSubjectNotFound is returned when the registry has no version for a subject.
var ErrSubjectNotFound = errors.New("schema registry: subject not found")

// SchemaRegistryClient registers the JSON schemas for activity events and resolves their IDs.
type SchemaRegistryClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewSchemaRegistryClient constructs a client for the registry at baseURL.
func NewSchemaRegistryClient(baseURL string) *SchemaRegistryClient {
	return &SchemaRegistryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type schemaVersion struct {
	ID     int    `json:"id"`
	Schema string `json:"schema"`
}

// EnsureSchema returns the ID of schema under subject. The latest version is
// reused when its text matches; otherwise schema is registered as a new version.
func (c *SchemaRegistryClient) EnsureSchema(ctx context.Context, subject string, schema string) (int, error) {
	latest, err := c.fetchLatest(ctx, subject)
	switch {
	case err == nil && sameSchema(latest.Schema, schema):
		return latest.ID, nil
	case err != nil && !errors.Is(err, ErrSubjectNotFound):
		return 0, err
	}
	return c.register(ctx, subject, schema)
}

func (c *SchemaRegistryClient) subjectURL(subject string, suffix string) string {
	return c.baseURL + "/subjects/" + url.PathEscape(subject) + suffix
}

func (c *SchemaRegistryClient) fetchLatest(ctx context.Context, subject string) (schemaVersion, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.subjectURL(subject, "/versions/latest"), nil)
	if err != nil {
		return schemaVersion{}, err
	}
	req.Header.Set("Accept", schemaRegistryContentType)

	var version schemaVersion
	if err := c.do(req, &version); err != nil {
		return schemaVersion{}, err
	}
	return version, nil
}

func (c *SchemaRegistryClient) register(ctx context.Context, subject string, schema string) (int, error) {
	body, err := json.Marshal(map[string]any{
		"schemaType": "JSON",
		"schema":     schema,
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.subjectURL(subject, "/versions"), bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", schemaRegistryContentType)

	var payload schemaVersion
	if err := c.do(req, &payload); err != nil {
		return 0, fmt.Errorf("register %s: %w", subject, err)
	}
	return payload.ID, nil
}

func (c *SchemaRegistryClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrSubjectNotFound
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("schema registry %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// sameSchema compares two JSON schema documents ignoring whitespace.
func sameSchema(a, b string) bool {
	var ca, cb bytes.Buffer
	if json.Compact(&ca, []byte(a)) != nil || json.Compact(&cb, []byte(b)) != nil {
		return a == b
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}
