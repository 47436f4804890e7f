package outbox

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"example.com/flowstate/internal/platform/events"
)

func TestRecordDeliveredLabelsByEventType(t *testing.T) {
	logged := deliveredCounter.WithLabelValues(events.TopicActivity, events.TypeActivityLogged)
	rejected := deliveredCounter.WithLabelValues(events.TopicRejects, events.TypeActivityRejected)
	beforeLogged := testutil.ToFloat64(logged)
	beforeRejected := testutil.ToFloat64(rejected)

	now := time.Now()
	recordDelivered([]Message{
		{Topic: events.TopicActivity, EventType: events.TypeActivityLogged, CreatedAt: now.Add(-2 * time.Second)},
		{Topic: events.TopicActivity, EventType: events.TypeActivityLogged, CreatedAt: now.Add(-time.Second)},
		{Topic: events.TopicRejects, EventType: events.TypeActivityRejected},
	}, now)

	require.InDelta(t, beforeLogged+2, testutil.ToFloat64(logged), 0.0001)
	require.InDelta(t, beforeRejected+1, testutil.ToFloat64(rejected), 0.0001)
	require.GreaterOrEqual(t, testutil.CollectAndCount(publishLag), 1)
}

func TestRecordFailedLabelsByEventType(t *testing.T) {
	failed := failedCounter.WithLabelValues(events.TopicRejects, events.TypeActivityRejected)
	before := testutil.ToFloat64(failed)

	recordFailed([]Message{{Topic: events.TopicRejects, EventType: events.TypeActivityRejected}})

	require.InDelta(t, before+1, testutil.ToFloat64(failed), 0.0001)
}

func TestSetBacklogZeroesDrainedTopics(t *testing.T) {
	setBacklog(map[backlogKey]int{
		{topic: events.TopicActivity, state: backlogPending}:    3,
		{topic: events.TopicRejects, state: backlogQuarantined}: 2,
	})
	require.Equal(t, 3.0, testutil.ToFloat64(dlqBacklogGauge.WithLabelValues(events.TopicActivity, backlogPending)))
	require.Equal(t, 2.0, testutil.ToFloat64(dlqBacklogGauge.WithLabelValues(events.TopicRejects, backlogQuarantined)))

	setBacklog(map[backlogKey]int{})
	require.Equal(t, 0.0, testutil.ToFloat64(dlqBacklogGauge.WithLabelValues(events.TopicActivity, backlogPending)))
	require.Equal(t, 0.0, testutil.ToFloat64(dlqBacklogGauge.WithLabelValues(events.TopicRejects, backlogQuarantined)))
}
