package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("node-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordBlocksAllocated("node-a", 3)
	RecordBlocksReleased("node-a")
	RecordTransportSend("node-a", 42)
	RecordPacket("node-a", "tx", "cmd")
	RecordRPCError("node-a", "recv")
	RecordCall("node-a", "diag", 40*time.Microsecond)
	SetContextsInUse("node-a", 2)

	if got := testutil.ToFloat64(blocksAllocated.WithLabelValues("node-a")); got < 3 {
		t.Fatalf("blocks allocated counter: got %v", got)
	}
	if got := testutil.ToFloat64(rpcContexts.WithLabelValues("node-a")); got != 2 {
		t.Fatalf("contexts gauge: got %v want 2", got)
	}
}
