package services

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/sisoputnfrba/tp-kosh/kernel/models"
	"golang.org/x/exp/maps"
)

// MessageQueue es la cola de mensajes de un proceso, acotada por cantidad y
// por bytes. Los mensajes salen por prioridad ascendente y, a igual prioridad,
// en orden de llegada.
type MessageQueue struct {
	mu          sync.Mutex
	owner       models.ProcessID
	messages    []models.Message
	totalSize   int
	maxMessages int
	maxSize     int

	received  uint64
	sent      uint64
	fullCount uint64

	// notify se cierra y se reemplaza en cada encolado.
	notify chan struct{}
}

func NewMessageQueue(owner models.ProcessID, maxMessages, maxSize int) *MessageQueue {
	if maxMessages <= 0 {
		maxMessages = models.DefaultQueueMaxMessages
	}
	if maxSize <= 0 {
		maxSize = models.DefaultQueueMaxBytes
	}
	return &MessageQueue{
		owner:       owner,
		maxMessages: maxMessages,
		maxSize:     maxSize,
		notify:      make(chan struct{}),
	}
}

// Enqueue agrega message respetando el orden por prioridad. Si no entra
// falla sin modificar la cola.
func (q *MessageQueue) Enqueue(message models.Message) error {
	size := message.TotalSize()

	q.mu.Lock()
	defer q.mu.Unlock()

	if size > q.maxSize {
		return fmt.Errorf("%w: %d bytes, límite %d", models.ErrMessageTooLarge, size, q.maxSize)
	}
	if len(q.messages) >= q.maxMessages || q.totalSize+size > q.maxSize {
		q.fullCount++
		return fmt.Errorf("%w: PID %d (%d mensajes, %d bytes)", models.ErrQueueFull, q.owner, len(q.messages), q.totalSize)
	}

	// Primer mensaje con prioridad numéricamente mayor: los iguales quedan antes.
	index := slices.IndexFunc(q.messages, func(queued models.Message) bool {
		return queued.Header.Priority > message.Header.Priority
	})
	if index < 0 {
		index = len(q.messages)
	}
	q.messages = slices.Insert(q.messages, index, message)
	q.totalSize += size
	q.received++

	close(q.notify)
	q.notify = make(chan struct{})
	return nil
}

// Dequeue saca el primer mensaje de la cola.
func (q *MessageQueue) Dequeue() (models.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return models.Message{}, models.ErrNoMessage
	}
	message := q.messages[0]
	q.messages = slices.Delete(q.messages, 0, 1)
	q.totalSize -= message.TotalSize()
	return message, nil
}

func (q *MessageQueue) Peek() (models.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return models.Message{}, false
	}
	return q.messages[0], true
}

// Wait retorna un canal que se cierra con el próximo encolado.
func (q *MessageQueue) Wait() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.notify
}

func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.messages)
}

func (q *MessageQueue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.messages) >= q.maxMessages || q.totalSize >= q.maxSize
}

// Clear descarta los mensajes pendientes y retorna cuántos había. Despierta a
// quien esté esperando en Wait.
func (q *MessageQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	discarded := len(q.messages)
	q.messages = nil
	q.totalSize = 0
	close(q.notify)
	q.notify = make(chan struct{})
	return discarded
}

func (q *MessageQueue) markSent() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.sent++
}

func (q *MessageQueue) Stats() models.QueueStatistics {
	q.mu.Lock()
	defer q.mu.Unlock()

	return models.QueueStatistics{
		PID:              q.owner,
		PendingMessages:  len(q.messages),
		TotalSizeBytes:   q.totalSize,
		MessagesReceived: q.received,
		MessagesSent:     q.sent,
		QueueFullCount:   q.fullCount,
		MaxMessages:      q.maxMessages,
		MaxSizeBytes:     q.maxSize,
	}
}

// MessageQueueManager guarda la cola de cada proceso.
type MessageQueueManager struct {
	mu            sync.RWMutex
	queues        map[models.ProcessID]*MessageQueue
	maxMessages   int
	maxSize       int
	queuesCreated uint64
}

func NewMessageQueueManager(maxMessages, maxSize int) *MessageQueueManager {
	return &MessageQueueManager{
		queues:      make(map[models.ProcessID]*MessageQueue),
		maxMessages: maxMessages,
		maxSize:     maxSize,
	}
}

// CreateQueue crea la cola de pid con los límites por defecto. Si ya existe la retorna.
func (m *MessageQueueManager) CreateQueue(pid models.ProcessID) *MessageQueue {
	m.mu.Lock()
	defer m.mu.Unlock()

	if queue, ok := m.queues[pid]; ok {
		return queue
	}
	queue := NewMessageQueue(pid, m.maxMessages, m.maxSize)
	m.queues[pid] = queue
	m.queuesCreated++
	slog.Debug("Cola de mensajes creada", "pid", pid)
	return queue
}

func (m *MessageQueueManager) Queue(pid models.ProcessID) (*MessageQueue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	queue, ok := m.queues[pid]
	return queue, ok
}

// RemoveQueue elimina la cola de pid y retorna cuántos mensajes se descartaron.
func (m *MessageQueueManager) RemoveQueue(pid models.ProcessID) int {
	m.mu.Lock()
	queue, ok := m.queues[pid]
	delete(m.queues, pid)
	m.mu.Unlock()

	if !ok {
		return 0
	}
	discarded := queue.Clear()
	if discarded > 0 {
		slog.Warn("Se descartaron mensajes pendientes", "pid", pid, "mensajes", discarded)
	}
	return discarded
}

// Enqueue entrega message en la cola del receptor, creándola si hace falta.
func (m *MessageQueueManager) Enqueue(message models.Message) error {
	if err := m.CreateQueue(message.Header.Receiver).Enqueue(message); err != nil {
		return err
	}
	if sender, ok := m.Queue(message.Header.Sender); ok {
		sender.markSent()
	}
	return nil
}

func (m *MessageQueueManager) Dequeue(pid models.ProcessID) (models.Message, error) {
	queue, ok := m.Queue(pid)
	if !ok {
		return models.Message{}, fmt.Errorf("%w: PID %d sin cola", models.ErrReceiverNotFound, pid)
	}
	return queue.Dequeue()
}

func (m *MessageQueueManager) QueueStats(pid models.ProcessID) (models.QueueStatistics, bool) {
	queue, ok := m.Queue(pid)
	if !ok {
		return models.QueueStatistics{}, false
	}
	return queue.Stats(), true
}

// GlobalStats suma las estadísticas de todas las colas.
func (m *MessageQueueManager) GlobalStats() models.GlobalQueueStatistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := models.GlobalQueueStatistics{
		ActiveQueues:       len(m.queues),
		TotalQueuesCreated: m.queuesCreated,
	}
	for _, queue := range m.queues {
		queueStats := queue.Stats()
		stats.TotalPendingMessages += queueStats.PendingMessages
		stats.TotalMessagesSent += queueStats.MessagesSent
		stats.TotalMessagesReceived += queueStats.MessagesReceived
		stats.TotalQueueFullEvents += queueStats.QueueFullCount
	}
	return stats
}

// Owners retorna los PIDs con cola, ordenados.
func (m *MessageQueueManager) Owners() []models.ProcessID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owners := maps.Keys(m.queues)
	slices.Sort(owners)
	return owners
}
