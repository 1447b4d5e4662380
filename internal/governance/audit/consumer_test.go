package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	inats "github.com/qbank-platform/qbank/internal/nats"
)

type memInserter struct {
	logs []*AuditLog
	err  error
}

func (m *memInserter) Insert(_ context.Context, log *AuditLog) error {
	if m.err != nil {
		return m.err
	}
	m.logs = append(m.logs, log)
	return nil
}

func TestAuditEventDeserialization(t *testing.T) {
	ownerID := uuid.New()
	actorID := uuid.New()

	event := inats.AuditEvent{
		OwnerUserID:  ownerID,
		ActorUserID:  &actorID,
		EventType:    inats.EventOverrideSet,
		Severity:     "info",
		ResourceType: "quota_override",
		ResourceID:   ownerID.String(),
		Details:      "paper_quota=3",
		Timestamp:    time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded inats.AuditEvent
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, ownerID, decoded.OwnerUserID)
	require.NotNil(t, decoded.ActorUserID)
	assert.Equal(t, actorID, *decoded.ActorUserID)
	assert.Equal(t, inats.EventOverrideSet, decoded.EventType)
	assert.Equal(t, "quota_override", decoded.ResourceType)
	assert.Equal(t, "paper_quota=3", decoded.Details)
}

func TestLogFromEvent(t *testing.T) {
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	event := inats.AuditEvent{
		OwnerUserID:  uuid.New(),
		EventType:    inats.EventQuotaExceeded,
		Severity:     "warn",
		ResourceType: "answer",
		ResourceID:   "question-481",
		Details:      "answer quota exceeded: 200/200 used",
		Timestamp:    ts,
	}

	log := logFromEvent(event)

	assert.NotEqual(t, uuid.Nil, log.ID)
	assert.Equal(t, event.OwnerUserID, log.OwnerUserID)
	assert.Nil(t, log.ActorUserID)
	assert.Equal(t, "quota_exceeded", log.EventType)
	assert.Equal(t, "warn", log.Severity)
	assert.Equal(t, "question-481", log.ResourceID)
	assert.Equal(t, ts, log.CreatedAt)

	var details map[string]string
	require.NoError(t, json.Unmarshal(log.Details, &details))
	assert.Equal(t, "answer quota exceeded: 200/200 used", details["message"])
}

func TestLogFromEvent_DefaultSeverity(t *testing.T) {
	log := logFromEvent(inats.AuditEvent{OwnerUserID: uuid.New(), EventType: inats.EventConfigUpdated})
	assert.Equal(t, "info", log.Severity)
	assert.Empty(t, log.ResourceID)
}

func TestConsumer_Persist(t *testing.T) {
	ctx := context.Background()

	t.Run("valid payload", func(t *testing.T) {
		store := &memInserter{}
		c := NewConsumer(store, nil)
		data, _ := json.Marshal(inats.AuditEvent{OwnerUserID: uuid.New(), EventType: inats.EventOverrideCleared})

		require.NoError(t, c.persist(ctx, data))
		require.Len(t, store.logs, 1)
		assert.Equal(t, inats.EventOverrideCleared, store.logs[0].EventType)
	})

	t.Run("malformed payload", func(t *testing.T) {
		store := &memInserter{}
		c := NewConsumer(store, nil)
		err := c.persist(ctx, []byte("{not json"))
		assert.ErrorIs(t, err, ErrInvalidEvent)
		assert.Empty(t, store.logs)
	})

	t.Run("store failure", func(t *testing.T) {
		c := NewConsumer(&memInserter{err: errors.New("db down")}, nil)
		data, _ := json.Marshal(inats.AuditEvent{OwnerUserID: uuid.New(), EventType: inats.EventQuotaExceeded})
		err := c.persist(ctx, data)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrInvalidEvent)
	})
}

// ackRecorder records which acknowledgement the consumer chose.
type ackRecorder struct {
	jetstream.Msg
	data []byte
	acks []string
}

func (m *ackRecorder) Data() []byte { return m.data }
func (m *ackRecorder) Ack() error   { m.acks = append(m.acks, "ack"); return nil }
func (m *ackRecorder) Nak() error   { m.acks = append(m.acks, "nak"); return nil }
func (m *ackRecorder) Term() error  { m.acks = append(m.acks, "term"); return nil }

func TestConsumer_HandleEventAcknowledgement(t *testing.T) {
	ctx := context.Background()
	valid, err := json.Marshal(inats.AuditEvent{OwnerUserID: uuid.New(), EventType: inats.EventQuotaExceeded})
	require.NoError(t, err)

	tests := []struct {
		name  string
		store *memInserter
		data  []byte
		want  string
	}{
		{"persisted event is acked", &memInserter{}, valid, "ack"},
		{"store failure is redelivered", &memInserter{err: errors.New("db down")}, valid, "nak"},
		{"undecodable payload is terminated", &memInserter{}, []byte("{not json"), "term"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &ackRecorder{data: tt.data}
			NewConsumer(tt.store, nil).handleEvent(ctx, msg)
			assert.Equal(t, []string{tt.want}, msg.acks)
		})
	}
}
