package utils

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateID(t *testing.T) {
	id := GenerateID("saga")
	assert.Equal(t, "saga", IDPrefix(id))

	_, err := uuid.Parse(id[len("saga_"):])
	require.NoError(t, err)

	assert.NotEqual(t, GenerateID("saga"), GenerateID("saga"))
}

func TestGenerateIDWithoutPrefix(t *testing.T) {
	id := GenerateID("")
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, "", IDPrefix(id))
}
