package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestFileRegistrySubmit(t *testing.T) {
	r := NewFileRegistry(t.TempDir())
	spec := Spec{Format: "viaf", Ancestry: Ancestry{Datafile: "bob"}}

	id, err := r.Submit(context.Background(), spec)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := r.Load(id)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, spec, job.Spec)
	assert.False(t, job.SubmittedAt.IsZero())

	other, err := r.Submit(context.Background(), spec)
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error) {
	ret := m.Called(name, durable, autoDelete, exclusive, noWait, args)
	return ret.Get(0).(amqp091.Queue), ret.Error(1)
}

func (m *MockPublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	ret := m.Called(ctx, exchange, key, mandatory, immediate, msg)
	return ret.Error(0)
}

func TestAMQPRegistryPublishesPersistentJSON(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("QueueDeclare", "harvester.jobs", true, false, false, false, amqp091.Table(nil)).
		Return(amqp091.Queue{Name: "harvester.jobs"}, nil)

	var published amqp091.Publishing
	pub.On("PublishWithContext", mock.Anything, "", "harvester.jobs", false, false, mock.AnythingOfType("amqp091.Publishing")).
		Run(func(args mock.Arguments) { published = args.Get(5).(amqp091.Publishing) }).
		Return(nil)

	r := NewAMQPRegistry(pub, "harvester.jobs")
	id, err := r.Submit(context.Background(), Spec{Destination: "ticklerepo", Ancestry: Ancestry{Datafile: "sponge"}})
	require.NoError(t, err)

	pub.AssertExpectations(t)
	assert.Equal(t, id, published.MessageId)
	assert.Equal(t, amqp091.Persistent, published.DeliveryMode)
	assert.Equal(t, "application/json", published.ContentType)

	var job Job
	require.NoError(t, json.Unmarshal(published.Body, &job))
	assert.Equal(t, id, job.ID)
	assert.Equal(t, "ticklerepo", job.Spec.Destination)
	assert.Equal(t, "sponge", job.Spec.Ancestry.Datafile)
	assert.NoError(t, r.Close())
}

func TestAMQPRegistryPublishFailure(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("QueueDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(amqp091.Queue{}, nil)
	pub.On("PublishWithContext", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("channel closed"))

	_, err := NewAMQPRegistry(pub, "q").Submit(context.Background(), Spec{})
	assert.ErrorContains(t, err, "publish job: channel closed")
}

func TestAMQPRegistryDeclareFailure(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("QueueDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(amqp091.Queue{}, errors.New("access refused"))

	_, err := NewAMQPRegistry(pub, "q").Submit(context.Background(), Spec{})
	assert.ErrorContains(t, err, "declare queue q")
	pub.AssertNotCalled(t, "PublishWithContext", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
