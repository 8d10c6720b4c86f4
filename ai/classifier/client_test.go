package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomlabs/chatloom/conversations"
)

func TestClientClassify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req classifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "lunch friday at noon?", req.Text)

		json.NewEncoder(w).Encode(map[string]any{"label": "LABEL_1", "score": 0.97})
	}))
	defer srv.Close()

	c, err := NewClient(&Config{BaseURL: srv.URL})
	require.NoError(t, err)

	got, err := c.Classify(context.Background(), "lunch friday at noon?")
	require.NoError(t, err)
	require.Equal(t, conversations.LabelPositive, got.Label)
	require.InDelta(t, 0.97, got.Score, 1e-9)
}

func TestClientClassifyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewClient(&Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}

func TestClientClassifyUnknownLabel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"label": "LABEL_9", "score": 0.5})
	}))
	defer srv.Close()

	c, err := NewClient(&Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown label")
}

func TestClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(&Config{})
	require.Error(t, err)
}
