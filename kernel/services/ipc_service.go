package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sisoputnfrba/tp-kosh/kernel/models"
)

// IPCService envía y recibe mensajes entre procesos validando emisor, receptor
// y capacidades.
type IPCService struct {
	mu           sync.Mutex
	table        *ProcessTable
	queues       *MessageQueueManager
	capabilities *CapabilityManager
	clock        Clock
	nextID       models.MessageID
	// Mensajes entregados que todavía pueden responderse.
	awaitingReply map[models.MessageID]models.MessageHeader
}

func NewIPCService(table *ProcessTable, queues *MessageQueueManager, capabilities *CapabilityManager, clock Clock) *IPCService {
	return &IPCService{
		table:         table,
		queues:        queues,
		capabilities:  capabilities,
		clock:         clock,
		nextID:        1,
		awaitingReply: make(map[models.MessageID]models.MessageHeader),
	}
}

// Send entrega message en la cola del receptor y retorna el ID asignado.
// El emisor necesita SendMessage sobre el receptor o sobre cualquier proceso.
func (s *IPCService) Send(message models.Message) (models.MessageID, error) {
	sender := message.Header.Sender
	receiver := message.Header.Receiver

	if !s.table.Exists(sender) {
		return 0, fmt.Errorf("%w: PID %d", models.ErrSenderNotFound, sender)
	}
	if !s.table.Exists(receiver) {
		return 0, fmt.Errorf("%w: PID %d", models.ErrReceiverNotFound, receiver)
	}
	if !s.capabilities.Check(sender, models.CapSendMessage, models.ProcessResource(receiver)) {
		slog.Warn(fmt.Sprintf("## PID %d no puede enviar mensajes a PID %d", sender, receiver))
		return 0, fmt.Errorf("%w: PID %d no tiene SendMessage sobre PID %d", models.ErrPermissionDenied, sender, receiver)
	}
	for _, attached := range message.Capabilities {
		if _, owned := s.capabilities.Get(sender, attached.ID); !owned {
			return 0, fmt.Errorf("%w: la capacidad %d no pertenece a PID %d", models.ErrPermissionDenied, attached.ID, sender)
		}
	}
	message.Header.Flags.HasCapabilities = len(message.Capabilities) > 0

	return s.deliver(message)
}

func (s *IPCService) deliver(message models.Message) (models.MessageID, error) {
	s.mu.Lock()
	message.Header.ID = s.nextID
	message.Header.TimestampMs = s.clock.NowMs()
	s.nextID++
	s.mu.Unlock()

	if err := s.queues.Enqueue(message); err != nil {
		return 0, err
	}
	slog.Debug(fmt.Sprintf("## PID %d Envía mensaje %d a PID %d - Tipo: %s - Prioridad: %d",
		message.Header.Sender, message.Header.ID, message.Header.Receiver, message.Header.Type, message.Header.Priority))
	return message.Header.ID, nil
}

// Receive saca el próximo mensaje de la cola de pid. Con timeout 0 no espera
// y falla con ErrNoMessage. Con timeout positivo el proceso queda bloqueado
// esperando un mensaje hasta que llegue uno, venza el plazo o se cancele ctx.
// Si el proceso termina durante la espera falla con ErrReceiverNotFound.
func (s *IPCService) Receive(ctx context.Context, pid models.ProcessID, timeout time.Duration) (models.Message, error) {
	if !s.table.Exists(pid) {
		return models.Message{}, fmt.Errorf("%w: PID %d", models.ErrReceiverNotFound, pid)
	}
	queue := s.queues.CreateQueue(pid)

	var timer *time.Timer
	blocked := false
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		if blocked {
			if err := s.table.Unblock(pid); err != nil {
				slog.Debug("El receptor no volvió a Ready", "pid", pid, "error", err)
			}
		}
	}()

	for {
		// El canal se toma antes de mirar la cola para no perder un encolado intermedio.
		wake := queue.Wait()
		message, err := queue.Dequeue()
		if err == nil {
			s.delivered(message)
			return message, nil
		}
		if timeout <= 0 {
			return models.Message{}, err
		}

		if timer == nil {
			timer = time.NewTimer(timeout)
			if state, err := s.table.State(pid); err == nil && state.Kind == models.StateRunning {
				if err := s.table.Block(pid, models.WaitingForMessage); err == nil {
					blocked = true
				}
			}
		}

		select {
		case <-wake:
			if !s.table.Exists(pid) {
				blocked = false
				return models.Message{}, fmt.Errorf("%w: PID %d terminó mientras esperaba", models.ErrReceiverNotFound, pid)
			}
		case <-timer.C:
			return models.Message{}, fmt.Errorf("%w: PID %d esperó %s", models.ErrTimeout, pid, timeout)
		case <-ctx.Done():
			return models.Message{}, ctx.Err()
		}
	}
}

func (s *IPCService) delivered(message models.Message) {
	slog.Debug(fmt.Sprintf("## PID %d Recibe mensaje %d de PID %d", message.Header.Receiver, message.Header.ID, message.Header.Sender))
	if message.IsReply() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.awaitingReply[message.Header.ID] = message.Header
}

// Reply responde el mensaje replyTo. Sólo puede hacerlo quien lo recibió, y
// no necesita SendMessage sobre el emisor original.
func (s *IPCService) Reply(replier models.ProcessID, replyTo models.MessageID, data models.MessageData) (models.MessageID, error) {
	s.mu.Lock()
	header, ok := s.awaitingReply[replyTo]
	s.mu.Unlock()

	if !ok {
		return 0, fmt.Errorf("%w: el mensaje %d no espera respuesta", models.ErrInvalidArgument, replyTo)
	}
	if header.Receiver != replier {
		return 0, fmt.Errorf("%w: PID %d no recibió el mensaje %d", models.ErrPermissionDenied, replier, replyTo)
	}
	if !s.table.Exists(header.Sender) {
		return 0, fmt.Errorf("%w: PID %d", models.ErrReceiverNotFound, header.Sender)
	}

	reply := models.Message{Header: header}.CreateReply(replier, data)
	id, err := s.deliver(reply)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	delete(s.awaitingReply, replyTo)
	s.mu.Unlock()
	return id, nil
}

// Pending retorna la cantidad de mensajes en la cola de pid.
func (s *IPCService) Pending(pid models.ProcessID) int {
	queue, ok := s.queues.Queue(pid)
	if !ok {
		return 0
	}
	return queue.Len()
}

// ForgetProcess descarta la cola de pid y las respuestas pendientes que lo involucran.
func (s *IPCService) ForgetProcess(pid models.ProcessID) {
	s.queues.RemoveQueue(pid)

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, header := range s.awaitingReply {
		if header.Sender == pid || header.Receiver == pid {
			delete(s.awaitingReply, id)
		}
	}
}

func (s *IPCService) Stats() models.IpcStatistics {
	return models.IpcStatistics{
		Queues:       s.queues.GlobalStats(),
		Capabilities: s.capabilities.Statistics(),
	}
}
