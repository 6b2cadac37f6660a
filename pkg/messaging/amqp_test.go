package messaging

import (
	"encoding/json"
	"testing"
	"time"

	"resonance-engine/pkg/scoring"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestDisabledClientIsNoOp(t *testing.T) {
	client := NewClient(testLogger(), Config{})

	assert.False(t, client.Enabled())
	assert.NoError(t, client.Connect())
	assert.False(t, client.IsConnected())

	record := &scoring.Record{ID: "r1", Score: 0.8, Timestamp: time.Now()}
	assert.NoError(t, client.PublishRecord(record, "hello"))

	client.Disconnect()
}

func TestEnabledButDisconnectedPublishFails(t *testing.T) {
	client := NewClient(testLogger(), Config{URL: "amqp://localhost:5672", QueueName: "records"})

	record := &scoring.Record{ID: "r1", Score: 0.8}
	err := client.PublishRecord(record, "hello")
	assert.Error(t, err)
}

func TestPublishNilRecordIsNoOp(t *testing.T) {
	client := NewClient(testLogger(), Config{URL: "amqp://localhost:5672", QueueName: "records"})
	assert.NoError(t, client.PublishRecord(nil, ""))
}

func TestRecordMessageShape(t *testing.T) {
	msg := RecordMessage{
		Record: &scoring.Record{
			ID:             "r1",
			Score:          0.82,
			TextAccuracy:   0.9,
			VocalEnergy:    0.8,
			PitchStability: 0.7,
			Mode:           "calibrated",
		},
		Transcript: "take a deep breath",
		Timestamp:  time.Now(),
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	record, ok := decoded["record"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "r1", record["id"])
	assert.Equal(t, "calibrated", record["mode"])
	assert.Equal(t, "take a deep breath", decoded["transcript"])
}
