package messaging_test

import (
	"context"
	"encoding/json"
	"testing"

	"automl-backend/internal/messaging"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueuePublishAndReceive(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	payload := messaging.RunSessionPayload{SessionId: uuid.New(), TrainingRunId: uuid.New(), MaxRuntimeSecs: 60}
	require.NoError(t, queue.PublishRunSessionTask(context.Background(), payload))

	task := <-queue.Tasks()
	assert.Equal(t, messaging.AutoMLQueue, task.Type())

	var received messaging.RunSessionPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &received))
	assert.Equal(t, payload, received)
	assert.NoError(t, task.Ack())
}

func TestInMemoryQueuePublishRespectsContext(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	for i := 0; i < 100; i++ {
		require.NoError(t, queue.PublishRunSessionTask(context.Background(), messaging.RunSessionPayload{}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, queue.PublishRunSessionTask(ctx, messaging.RunSessionPayload{}), context.Canceled)
}

func TestInMemoryQueueCloseIsIdempotent(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	queue.Close()
	queue.Close()

	_, ok := <-queue.Tasks()
	assert.False(t, ok)
}
