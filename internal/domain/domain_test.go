package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageLevelJSON(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(RepoUsageStatus{Level: UsageLevelWarnAll})
	require.NoError(t, err)
	assert.JSONEq(t, `{"level":"WARN_ALL","warnings":null,"errors":null}`, string(raw))

	var status RepoUsageStatus
	require.NoError(t, json.Unmarshal([]byte(`{"level":"LOCKED_DOWN"}`), &status))
	assert.Equal(t, UsageLevelLockedDown, status.Level)

	require.Error(t, json.Unmarshal([]byte(`{"level":"PANIC"}`), &status))
}

func TestContentSize(t *testing.T) {
	t.Parallel()

	var missing *Content
	assert.Zero(t, missing.ContentSize())
	assert.False(t, missing.HasContent())

	c := &Content{Type: NodeTypeContent}
	assert.False(t, c.HasContent())
	c.Size = Int64Ptr(0)
	assert.True(t, c.HasContent())
	assert.Zero(t, c.ContentSize())

	assert.True(t, (&Content{Type: NodeTypeFolder}).IsFolder())
	assert.Equal(t, UnlimitedQuota, (&Person{}).Quota())
}
