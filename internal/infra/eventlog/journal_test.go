package eventlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikanban/ikanban/internal/domain"
	"github.com/ikanban/ikanban/internal/eventbus"
	"github.com/ikanban/ikanban/internal/testutil"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_AttachRecordsBusEvents(t *testing.T) {
	j := openTestJournal(t)
	clock := &testutil.MockClock{NowTime: time.UnixMilli(1700000000000)}
	bus := eventbus.New(clock)
	detach := j.Attach(bus)

	bus.Emit(domain.EventTaskEnqueued, domain.EventPayload{TaskID: "t1", ProjectID: "p1", State: domain.TaskStateQueued})
	bus.Emit(domain.EventTaskFailed, domain.EventPayload{TaskID: "t1", ProjectID: "p1", Error: "boom"})
	detach()
	bus.Emit(domain.EventTaskCompleted, domain.EventPayload{TaskID: "t1"})

	records, err := j.Query(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, j.RunID(), first.RunID)
	assert.Equal(t, uint64(1), first.Event.Sequence)
	assert.Equal(t, domain.EventTaskEnqueued, first.Event.Type)
	assert.Equal(t, domain.TaskStateQueued, first.Event.Payload.State)
	assert.Equal(t, int64(1700000000000), first.Event.EmittedAt.UnixMilli())
	assert.Equal(t, "boom", records[1].Event.Payload.Error)
}

func TestJournal_QueryFilters(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	events := []domain.RuntimeEvent{
		{Sequence: 1, Type: domain.EventTaskEnqueued, Payload: domain.EventPayload{TaskID: "a", ProjectID: "p1"}},
		{Sequence: 2, Type: domain.EventTaskEnqueued, Payload: domain.EventPayload{TaskID: "b", ProjectID: "p2"}},
		{Sequence: 3, Type: domain.EventTaskStateChanged, Payload: domain.EventPayload{TaskID: "a", ProjectID: "p1"}},
		{Sequence: 4, Type: domain.EventLogAppended, Payload: domain.EventPayload{Message: "hello"}},
		{Sequence: 5, Type: domain.EventTaskCompleted, Payload: domain.EventPayload{TaskID: "a", ProjectID: "p1"}},
	}
	for _, e := range events {
		require.NoError(t, j.Append(ctx, e))
	}

	sequences := func(records []Record) []uint64 {
		out := make([]uint64, len(records))
		for i, r := range records {
			out[i] = r.Event.Sequence
		}
		return out
	}

	tests := []struct {
		name   string
		filter Filter
		want   []uint64
	}{
		{"all", Filter{}, []uint64{1, 2, 3, 4, 5}},
		{"task", Filter{TaskID: "a"}, []uint64{1, 3, 5}},
		{"project", Filter{ProjectID: "p2"}, []uint64{2}},
		{"types", Filter{Types: []domain.EventType{domain.EventTaskEnqueued, domain.EventLogAppended}}, []uint64{1, 2, 4}},
		{"limit keeps most recent", Filter{TaskID: "a", Limit: 2}, []uint64{3, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := j.Query(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sequences(records))
		})
	}
}

func TestJournal_PersistsAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "events.db")
	ctx := context.Background()

	first, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, first.Append(ctx, domain.RuntimeEvent{Sequence: 1, Type: domain.EventTaskEnqueued}))
	require.NoError(t, first.Close())

	second, err := Open(path, nil)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()
	require.NoError(t, second.Append(ctx, domain.RuntimeEvent{Sequence: 1, Type: domain.EventTaskEnqueued}))

	records, err := second.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.NotEqual(t, records[0].RunID, records[1].RunID)
	assert.Equal(t, second.RunID(), records[1].RunID)
}

func TestJournal_Prune(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.UnixMilli(1700000000000)

	for i := 0; i < 4; i++ {
		require.NoError(t, j.Append(ctx, domain.RuntimeEvent{
			Sequence:  uint64(i + 1),
			Type:      domain.EventTaskEnqueued,
			EmittedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	n, err := j.Prune(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	records, err := j.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestJournal_AppendFailureIsLogged(t *testing.T) {
	logger := &testutil.MockLogger{}
	j, err := Open(":memory:", logger)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	bus := eventbus.New(nil)
	j.Attach(bus)
	bus.Emit(domain.EventTaskEnqueued, domain.EventPayload{TaskID: "t1"})

	assert.Equal(t, 1, logger.Count("WARN"))
}
