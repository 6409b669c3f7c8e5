package postgres

import (
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	dup := fmt.Errorf("saving result: %w", &pq.Error{Code: "23505"})
	missing := &pq.Error{Code: "42P01"}

	assert.True(t, IsUniqueViolation(dup))
	assert.False(t, IsUniqueViolation(missing))
	assert.True(t, IsUndefinedTable(missing))
	assert.False(t, IsUndefinedTable(fmt.Errorf("plain")))
}
