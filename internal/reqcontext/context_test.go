package reqcontext

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRequestContextRoundTrip(t *testing.T) {
	rc := New("tool:system_status", "system_status")
	assert.NotEmpty(t, rc.RequestID)
	assert.False(t, rc.StartedAt.IsZero())

	ctx := WithRequest(context.Background(), rc)
	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, rc.RequestID, got.RequestID)

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
	_, ok = FromContext(nil)
	assert.False(t, ok)
}

func TestLoggerFallsBackToNop(t *testing.T) {
	assert.NotNil(t, Logger(context.Background()))
	assert.NotNil(t, Logger(nil))

	logger := zap.NewNop().Named("test")
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, Logger(ctx))
}

func TestFieldsOmitEmptyTool(t *testing.T) {
	rc := RequestContext{RequestID: "r1", Operation: "reload"}
	assert.Len(t, rc.Fields(), 2)

	rc.ToolName = "active_jobs"
	assert.Len(t, rc.Fields(), 3)
}

func TestGetOrGenerateRequestID(t *testing.T) {
	assert.Equal(t, "client-id_1", GetOrGenerateRequestID("client-id_1"))

	generated := GetOrGenerateRequestID("")
	assert.True(t, IsValidRequestID(generated))

	assert.NotEqual(t, "bad id", GetOrGenerateRequestID("bad id"))
	assert.NotEqual(t, GenerateRequestID(), GenerateRequestID())
}

func TestIsValidRequestID(t *testing.T) {
	assert.True(t, IsValidRequestID("abc-123_XYZ"))
	assert.False(t, IsValidRequestID(""))
	assert.False(t, IsValidRequestID("has space"))
	assert.False(t, IsValidRequestID(strings.Repeat("a", MaxRequestIDLength+1)))
}
