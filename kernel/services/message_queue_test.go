package services

import (
	"strings"
	"testing"

	"github.com/sisoputnfrba/tp-kosh/kernel/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type messageQueueTestSuite struct {
	suite.Suite
	assert *assert.Assertions
}

func (s *messageQueueTestSuite) SetupTest() {
	s.assert = assert.New(s.T())
}

func queuedMessage(priority uint8, text string) models.Message {
	m := models.NewMessage(1, 2, models.MessageServiceRequest, models.TextData(text))
	m.Header.Priority = priority
	return m
}

func (s *messageQueueTestSuite) TestDequeueOrdersByPriorityThenArrival() {
	queue := NewMessageQueue(2, 10, 4096)
	s.Require().NoError(queue.Enqueue(queuedMessage(200, "low")))
	s.Require().NoError(queue.Enqueue(queuedMessage(50, "urgent")))
	s.Require().NoError(queue.Enqueue(queuedMessage(200, "low-2")))
	s.Require().NoError(queue.Enqueue(queuedMessage(50, "urgent-2")))

	var order []string
	for queue.Len() > 0 {
		m, err := queue.Dequeue()
		s.Require().NoError(err)
		order = append(order, m.Data.Text)
	}

	s.assert.Equal([]string{"urgent", "urgent-2", "low", "low-2"}, order)
	_, err := queue.Dequeue()
	s.assert.ErrorIs(err, models.ErrNoMessage)
}

func (s *messageQueueTestSuite) TestFullQueueRejectsWithoutChanges() {
	queue := NewMessageQueue(2, 2, 4096)
	s.Require().NoError(queue.Enqueue(queuedMessage(1, "a")))
	s.Require().NoError(queue.Enqueue(queuedMessage(1, "b")))

	err := queue.Enqueue(queuedMessage(0, "c"))

	s.assert.ErrorIs(err, models.ErrQueueFull)
	s.assert.Equal(2, queue.Len())
	s.assert.True(queue.IsFull())
	head, ok := queue.Peek()
	s.Require().True(ok)
	s.assert.Equal("a", head.Data.Text)
	s.assert.Equal(uint64(1), queue.Stats().QueueFullCount)
}

func (s *messageQueueTestSuite) TestByteLimit() {
	queue := NewMessageQueue(2, 10, 2*models.MessageHeaderSize+10)
	s.Require().NoError(queue.Enqueue(queuedMessage(1, "12345")))
	s.Require().NoError(queue.Enqueue(queuedMessage(1, "12345")))

	s.assert.ErrorIs(queue.Enqueue(queuedMessage(1, "")), models.ErrQueueFull)
	s.assert.Equal(2*models.MessageHeaderSize+10, queue.Stats().TotalSizeBytes)

	_, err := queue.Dequeue()
	s.Require().NoError(err)
	s.assert.NoError(queue.Enqueue(queuedMessage(1, "")))
}

func (s *messageQueueTestSuite) TestMessageLargerThanQueue() {
	queue := NewMessageQueue(2, 10, 100)

	err := queue.Enqueue(queuedMessage(1, strings.Repeat("x", 100)))

	s.assert.ErrorIs(err, models.ErrMessageTooLarge)
	s.assert.Zero(queue.Len())
	s.assert.Zero(queue.Stats().QueueFullCount)
}

func (s *messageQueueTestSuite) TestWaitIsClosedByEnqueue() {
	queue := NewMessageQueue(2, 10, 4096)
	wake := queue.Wait()

	select {
	case <-wake:
		s.Fail("el canal no debería estar cerrado")
	default:
	}

	s.Require().NoError(queue.Enqueue(queuedMessage(1, "hola")))

	select {
	case <-wake:
	default:
		s.Fail("el encolado debería despertar a quien espera")
	}
	s.assert.NotEqual(wake, queue.Wait())
}

func (s *messageQueueTestSuite) TestDefaultsAndClear() {
	queue := NewMessageQueue(3, 0, 0)
	stats := queue.Stats()
	s.assert.Equal(models.DefaultQueueMaxMessages, stats.MaxMessages)
	s.assert.Equal(models.DefaultQueueMaxBytes, stats.MaxSizeBytes)

	s.Require().NoError(queue.Enqueue(queuedMessage(1, "a")))
	s.Require().NoError(queue.Enqueue(queuedMessage(1, "b")))
	wake := queue.Wait()
	s.assert.Equal(2, queue.Clear())
	s.assert.Zero(queue.Stats().TotalSizeBytes)

	select {
	case <-wake:
	default:
		s.Fail("vaciar la cola debería despertar a quien espera")
	}
}

func (s *messageQueueTestSuite) TestManagerTracksQueuesAndCounters() {
	manager := NewMessageQueueManager(10, 4096)
	manager.CreateQueue(1)
	s.assert.Same(manager.CreateQueue(1), manager.CreateQueue(1))

	s.Require().NoError(manager.Enqueue(queuedMessage(1, "a")))
	s.Require().NoError(manager.Enqueue(queuedMessage(1, "b")))

	s.assert.Equal([]models.ProcessID{1, 2}, manager.Owners())
	senderStats, ok := manager.QueueStats(1)
	s.Require().True(ok)
	s.assert.Equal(uint64(2), senderStats.MessagesSent)

	global := manager.GlobalStats()
	s.assert.Equal(2, global.ActiveQueues)
	s.assert.Equal(uint64(2), global.TotalQueuesCreated)
	s.assert.Equal(2, global.TotalPendingMessages)
	s.assert.Equal(uint64(2), global.TotalMessagesReceived)

	m, err := manager.Dequeue(2)
	s.Require().NoError(err)
	s.assert.Equal("a", m.Data.Text)

	s.assert.Equal(1, manager.RemoveQueue(2))
	_, err = manager.Dequeue(2)
	s.assert.ErrorIs(err, models.ErrReceiverNotFound)
	s.assert.Zero(manager.RemoveQueue(2))
}

func TestMessageQueueTestSuite(t *testing.T) {
	suite.Run(t, new(messageQueueTestSuite))
}
