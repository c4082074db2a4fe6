package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xhad/ragline/internal/models"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name     string
		metric   string
		a, b     []float32
		expected float64
	}{
		{"cosine identical", models.MetricCosine, []float32{1, 2}, []float32{2, 4}, 0},
		{"cosine orthogonal", models.MetricCosine, []float32{1, 0}, []float32{0, 3}, 1},
		{"cosine opposite", models.MetricCosine, []float32{1, 0}, []float32{-1, 0}, 2},
		{"cosine zero vector", models.MetricCosine, []float32{0, 0}, []float32{1, 0}, 1},
		{"l2", models.MetricL2, []float32{0, 0}, []float32{3, 4}, 5},
		{"ip", models.MetricIP, []float32{1, 0}, []float32{0.5, 0}, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Distance(tt.metric, tt.a, tt.b), 1e-9)
		})
	}
}

func TestRank_Empty(t *testing.T) {
	assert.Empty(t, rank(nil, []float32{1}, models.MetricCosine, 3))
	assert.Empty(t, rank([]models.Record{{ID: "a", Vector: []float32{1}}}, []float32{1}, models.MetricCosine, 0))
}
