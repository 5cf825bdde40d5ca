//go:build integration

package integrationtests

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"automl-backend/internal/messaging"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRabbitMQ(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	publisher, receiver := setupRabbitMQContainer(t, ctx)

	t.Run("Publish and Receive RunSessionTask", func(t *testing.T) {
		payload := messaging.RunSessionPayload{SessionId: uuid.New(), TrainingRunId: uuid.New(), MaxRuntimeSecs: 30}
		require.NoError(t, publisher.PublishRunSessionTask(ctx, payload))

		select {
		case task := <-receiver.Tasks():
			assert.Equal(t, messaging.AutoMLQueue, task.Type())

			var received messaging.RunSessionPayload
			require.NoError(t, json.Unmarshal(task.Payload(), &received))
			assert.Equal(t, payload, received)

			require.NoError(t, task.Ack())
		case <-time.After(10 * time.Second):
			t.Fatal("Timed out waiting for task")
		}
	})

	t.Run("Nacked Task Is Not Redelivered", func(t *testing.T) {
		first := messaging.RunSessionPayload{SessionId: uuid.New()}
		second := messaging.RunSessionPayload{SessionId: uuid.New()}
		require.NoError(t, publisher.PublishRunSessionTask(ctx, first))

		select {
		case task := <-receiver.Tasks():
			require.NoError(t, task.Nack())
		case <-time.After(10 * time.Second):
			t.Fatal("Timed out waiting for task")
		}

		require.NoError(t, publisher.PublishRunSessionTask(ctx, second))

		select {
		case task := <-receiver.Tasks():
			var received messaging.RunSessionPayload
			require.NoError(t, json.Unmarshal(task.Payload(), &received))
			assert.Equal(t, second.SessionId, received.SessionId)
			require.NoError(t, task.Ack())
		case <-time.After(10 * time.Second):
			t.Fatal("Timed out waiting for task")
		}
	})

	t.Run("Close Ends Task Stream", func(t *testing.T) {
		receiver.Close()

		select {
		case _, ok := <-receiver.Tasks():
			assert.False(t, ok)
		case <-time.After(10 * time.Second):
			t.Fatal("Timed out waiting for receiver to close")
		}
	})
}
