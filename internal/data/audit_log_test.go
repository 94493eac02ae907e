package data

import (
	"context"
	"os"
	"testing"
	"time"

	"FuseGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Without a MySQL connection the audit trail degrades to a no-op; none of
// the recording calls may block or panic.
func TestAuditLogger_NilDatabaseIsNoop(t *testing.T) {
	logger := log.NewStdLogger(os.Stdout)
	al := NewAuditLogger(nil, logger)

	ctx := context.Background()
	al.LogCircuitStateChange(ctx, "azure-speech", model.CircuitClosed, model.CircuitOpen, 3, 10)
	al.LogCircuitReset(ctx, "azure-speech")
	al.LogRateLimitDenied(ctx, "upload", "user-1", 20, 20)

	purged, err := al.PurgeOlderThan(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(0), purged)
}

// With a nil db nothing consumes the channel; the non-blocking enqueue
// must drop events rather than stall once the buffer would fill.
func TestAuditLogger_EnqueueNeverBlocks(t *testing.T) {
	logger := log.NewStdLogger(os.Stdout)
	al := NewAuditLogger(nil, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			al.LogCircuitReset(context.Background(), "svc")
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("audit enqueue blocked")
	}
}

func TestAuditLog_TableName(t *testing.T) {
	assert.Equal(t, "resilience_audit_logs", AuditLog{}.TableName())
}
