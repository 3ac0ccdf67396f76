package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiter-io/arbiter/pkg/audit"
)

func TestNewRecord_CopiesMetadata(t *testing.T) {
	meta := map[string]any{"k": "v"}
	rec := audit.NewRecord("system", "t1", "event_created", "risk_event", "e1", "", "corr-1", meta)

	meta["k"] = "mutated"
	assert.Equal(t, "v", rec.Metadata["k"], "record must not see caller mutation")
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.Timestamp.IsZero())
	assert.Equal(t, "UTC", rec.Timestamp.Location().String())
}

func TestMemorySink_AppendOnlyChain(t *testing.T) {
	ctx := context.Background()
	sink := audit.NewMemorySink()

	for i := 0; i < 3; i++ {
		rec := audit.NewRecord("workflow", "t1", "node_executed", "workflow", "e1", "", "corr-1", nil)
		require.NoError(t, sink.Record(ctx, rec))
	}

	entries := sink.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "genesis", entries[0].PreviousHash)
	assert.Equal(t, entries[0].EntryHash, entries[1].PreviousHash)
	assert.Equal(t, entries[1].EntryHash, entries[2].PreviousHash)
	require.NoError(t, sink.Verify())
}

func TestMemorySink_ByAction(t *testing.T) {
	ctx := context.Background()
	sink := audit.NewMemorySink()

	require.NoError(t, sink.Record(ctx, audit.NewRecord("system", "t1", "event_created", "risk_event", "e1", "", "c", nil)))
	require.NoError(t, sink.Record(ctx, audit.NewRecord("workflow", "t1", "decision_made", "workflow", "e1", "", "c", nil)))
	require.NoError(t, sink.Record(ctx, audit.NewRecord("system", "t1", "event_created", "risk_event", "e2", "", "c", nil)))

	created := sink.ByAction("event_created")
	require.Len(t, created, 2)
	assert.Equal(t, "e1", created[0].ResourceID)
	assert.Equal(t, "e2", created[1].ResourceID)
}

func TestSlogSink_WritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	sink := audit.NewSlogSink(logger)

	rec := audit.NewRecord("approver-1", "t1", "approval_granted", "approval_request", "req-1", "looks good", "corr-9", nil)
	require.NoError(t, sink.Record(context.Background(), rec))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "audit record", line["msg"])
	assert.Equal(t, "audit", line["component"])
	assert.Equal(t, "approver-1", line["actor"])
	assert.Equal(t, "approval_granted", line["action"])
	assert.Equal(t, "corr-9", line["correlation_id"])
}

func TestTee_FansOut(t *testing.T) {
	ctx := context.Background()
	a := audit.NewMemorySink()
	b := audit.NewMemorySink()
	tee := audit.Tee{a, b}

	rec := audit.NewRecord("system", "t1", "event_created", "risk_event", "e1", "", "c", nil)
	require.NoError(t, tee.Record(ctx, rec))

	assert.Len(t, a.Records(), 1)
	assert.Len(t, b.Records(), 1)
}

type fakePutAPI struct {
	keys   []string
	bodies [][]byte
}

func (f *fakePutAPI) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.keys = append(f.keys, *params.Key)
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(params.Body)
	f.bodies = append(f.bodies, buf.Bytes())
	return &s3.PutObjectOutput{}, nil
}

func TestExport_UploadsVerifiedChain(t *testing.T) {
	ctx := context.Background()
	sink := audit.NewMemorySink()
	require.NoError(t, sink.Record(ctx, audit.NewRecord("system", "t1", "event_created", "risk_event", "e1", "", "c", nil)))
	require.NoError(t, sink.Record(ctx, audit.NewRecord("workflow", "t1", "decision_made", "workflow", "e1", "", "c", nil)))

	put := &fakePutAPI{}
	archiver := audit.NewS3ArchiverWithClient(put, "audit-bucket")

	key, err := audit.Export(ctx, sink, archiver, "t1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "audit/t1/"))
	require.Len(t, put.bodies, 1)

	lines := bytes.Split(bytes.TrimSpace(put.bodies[0]), []byte("\n"))
	require.Len(t, lines, 2)
	var entry audit.ChainEntry
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, uint64(1), entry.Sequence)
	assert.Equal(t, "event_created", entry.Record.Action)
}
