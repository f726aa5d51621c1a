package assembler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairJSON_AlreadyValid(t *testing.T) {
	s := `{"q":"hi"}`
	assert.Equal(t, s, RepairJSON(s))
}

func TestRepairJSON_TruncatedObject(t *testing.T) {
	repaired := RepairJSON(`{"q":"hi"`)
	require.True(t, json.Valid([]byte(repaired)))
	assert.Equal(t, `{"q":"hi"}`, repaired)
}

func TestRepairJSON_TruncatedNestedArray(t *testing.T) {
	repaired := RepairJSON(`{"items":["a","b"`)
	require.True(t, json.Valid([]byte(repaired)))
}

func TestRepairJSON_TruncatedMidString(t *testing.T) {
	repaired := RepairJSON(`{"q":"hi`)
	require.True(t, json.Valid([]byte(repaired)))
}
