package outbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	mu       sync.Mutex
	versions map[string]schemaVersion
	nextID   int
	posts    int
	paths    []string
}

func (f *fakeRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, r.URL.EscapedPath())

	subject := r.PathValue("subject")
	switch r.Method {
	case http.MethodGet:
		v, ok := f.versions[subject]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error_code":40401,"message":"Subject not found."}`))
			return
		}
		_ = json.NewEncoder(w).Encode(v)
	case http.MethodPost:
		var body struct {
			Schema string `json:"schema"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		f.posts++
		f.nextID++
		f.versions[subject] = schemaVersion{ID: f.nextID, Schema: body.Schema}
		_ = json.NewEncoder(w).Encode(map[string]int{"id": f.nextID})
	}
}

func newFakeRegistry(t *testing.T) (*fakeRegistry, *SchemaRegistryClient) {
	t.Helper()
	fake := &fakeRegistry{versions: map[string]schemaVersion{}, nextID: 100}
	mux := http.NewServeMux()
	mux.Handle("/subjects/{subject}/versions", fake)
	mux.Handle("/subjects/{subject}/versions/latest", fake)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fake, NewSchemaRegistryClient(srv.URL + "/")
}

func TestSchemaRegistryRegistersMissingSubject(t *testing.T) {
	fake, client := newFakeRegistry(t)

	id, err := client.EnsureSchema(context.Background(), "flowstate_activity-value", `{"type":"object"}`)
	require.NoError(t, err)
	require.Equal(t, 101, id)
	require.Equal(t, 1, fake.posts)

	// Whitespace differences reuse the registered version.
	id, err = client.EnsureSchema(context.Background(), "flowstate_activity-value", "{ \"type\": \"object\" }")
	require.NoError(t, err)
	require.Equal(t, 101, id)
	require.Equal(t, 1, fake.posts)
}

func TestSchemaRegistryRegistersChangedSchema(t *testing.T) {
	fake, client := newFakeRegistry(t)
	fake.versions["flowstate_rejects-value"] = schemaVersion{ID: 7, Schema: `{"type":"object"}`}

	id, err := client.EnsureSchema(context.Background(), "flowstate_rejects-value", `{"type":"object","required":["reason"]}`)
	require.NoError(t, err)
	require.Equal(t, 101, id)
	require.Equal(t, 1, fake.posts)
}

func TestSchemaRegistryEscapesSubject(t *testing.T) {
	fake, client := newFakeRegistry(t)

	_, err := client.EnsureSchema(context.Background(), "team a/value", `{}`)
	require.NoError(t, err)
	require.Contains(t, fake.paths, "/subjects/team%20a%2Fvalue/versions/latest")
}

func TestSchemaRegistrySurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "registry down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewSchemaRegistryClient(srv.URL).EnsureSchema(context.Background(), "flowstate_activity-value", `{}`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
	require.NotErrorIs(t, err, ErrSubjectNotFound)
}
