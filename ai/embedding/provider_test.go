package embedding

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Run("unit length", func(t *testing.T) {
		v := Normalize([]float32{3, 4})
		assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
		assert.InDelta(t, 0.8, float64(v[1]), 1e-6)
		assert.InDelta(t, 1.0, Dot(v, v), 1e-6)
	})

	t.Run("zero vector unchanged", func(t *testing.T) {
		v := Normalize([]float32{0, 0, 0})
		assert.Equal(t, []float32{0, 0, 0}, v)
	})
}

func TestDot(t *testing.T) {
	assert.InDelta(t, 1.0, Dot([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, Dot([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Dot([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, Dot([]float32{1, 0}, []float32{1}), "mismatched lengths score 0")
}

func TestEmbedNormalisesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": [{"index": 0, "embedding": [3, 4]}],
			"model": "all-minilm"
		}`))
	}))
	t.Cleanup(srv.Close)

	p, err := NewProvider(&Config{Model: "all-minilm", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	vec, err := p.Embed(context.Background(), "meet at 3?")
	require.NoError(t, err)
	require.Len(t, vec, 2)

	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)
}

func TestNewProviderRequiresModel(t *testing.T) {
	_, err := NewProvider(&Config{})
	require.Error(t, err)
}

func TestEmbedBatchRejectsEmptyInput(t *testing.T) {
	p, err := NewProvider(&Config{Model: "all-minilm"})
	require.NoError(t, err)

	_, err = p.EmbedBatch(context.Background(), nil)
	require.Error(t, err)
}
