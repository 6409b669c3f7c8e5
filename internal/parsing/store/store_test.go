package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/parsing"
)

func TestSaveBatch_MismatchedLengths(t *testing.T) {
	s := New(nil, time.Second, nil)
	err := s.SaveBatch(context.Background(), "b", []parsing.ParseRequest{{}}, nil)
	assert.Error(t, err)
}

func TestCountByStatus(t *testing.T) {
	got := countByStatus([]parsing.ParseResponse{
		{Status: "parsed"}, {Status: "timeout"}, {Status: "parsed"},
	})
	assert.Equal(t, map[string]int{"parsed": 2, "timeout": 1}, got)
}
