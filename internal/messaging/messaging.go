package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	AutoMLQueue     = "automl_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

// RunSessionPayload asks a worker to train on a session's training file and
// score its prediction file.
type RunSessionPayload struct {
	SessionId      uuid.UUID
	TrainingRunId  uuid.UUID
	MaxRuntimeSecs int
}

type Publisher interface {
	PublishRunSessionTask(ctx context.Context, payload RunSessionPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
