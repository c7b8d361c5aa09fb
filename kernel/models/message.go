package models

import "fmt"

type MessageID uint64

// DefaultMessagePriority es la prioridad de un mensaje nuevo. 0 es la más alta y 255 la más baja.
const DefaultMessagePriority uint8 = 128

// MessageHeaderSize es lo que ocupa un encabezado en la cola.
const MessageHeaderSize = 48

type MessageType int

const (
	MessageSystemCall MessageType = iota
	MessageDriverRequest
	MessageServiceRequest
	MessageSignal
	MessageResponse
	MessageError
)

var messageTypeNames = map[MessageType]string{
	MessageSystemCall:     "SYSTEM_CALL",
	MessageDriverRequest:  "DRIVER_REQUEST",
	MessageServiceRequest: "SERVICE_REQUEST",
	MessageSignal:         "SIGNAL",
	MessageResponse:       "RESPONSE",
	MessageError:          "ERROR",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

func (t MessageType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *MessageType) UnmarshalText(text []byte) error {
	for messageType, name := range messageTypeNames {
		if name == string(text) {
			*t = messageType
			return nil
		}
	}
	return fmt.Errorf("%w: tipo de mensaje %q", ErrInvalidArgument, text)
}

type MessageDataKind int

const (
	DataEmpty MessageDataKind = iota
	DataBytes
	DataText
	DataStructured
	DataSystemCall
	DataError
)

// MessageData es el contenido de un mensaje. Kind indica qué campos valen:
//   - DataBytes: Bytes
//   - DataText: Text
//   - DataStructured: TypeID y Bytes
//   - DataSystemCall: CallNumber y Args
//   - DataError: Code y Text
type MessageData struct {
	Kind       MessageDataKind `json:"kind"`
	Bytes      []byte          `json:"bytes,omitempty"`
	Text       string          `json:"text,omitempty"`
	TypeID     uint32          `json:"type_id,omitempty"`
	CallNumber uint32          `json:"call_number,omitempty"`
	Args       [6]uint64       `json:"args"`
	Code       uint32          `json:"code,omitempty"`
}

func EmptyData() MessageData { return MessageData{Kind: DataEmpty} }

func BytesData(data []byte) MessageData { return MessageData{Kind: DataBytes, Bytes: data} }

func TextData(text string) MessageData { return MessageData{Kind: DataText, Text: text} }

func StructuredData(typeID uint32, data []byte) MessageData {
	return MessageData{Kind: DataStructured, TypeID: typeID, Bytes: data}
}

func SystemCallData(number uint32, args [6]uint64) MessageData {
	return MessageData{Kind: DataSystemCall, CallNumber: number, Args: args}
}

func ErrorData(code uint32, message string) MessageData {
	return MessageData{Kind: DataError, Code: code, Text: message}
}

// Size retorna los bytes que ocupa el contenido.
func (d MessageData) Size() int {
	switch d.Kind {
	case DataBytes:
		return len(d.Bytes)
	case DataText:
		return len(d.Text)
	case DataStructured:
		return len(d.Bytes) + 4
	case DataSystemCall:
		return 4 + 6*8
	case DataError:
		return 4 + len(d.Text)
	default:
		return 0
	}
}

func (d MessageData) IsEmpty() bool {
	return d.Kind == DataEmpty
}

type MessageFlags struct {
	Synchronous     bool `json:"synchronous"`
	NoQueue         bool `json:"no_queue"`
	HasCapabilities bool `json:"has_capabilities"`
	Broadcast       bool `json:"broadcast"`
}

type MessageHeader struct {
	ID          MessageID    `json:"id"`
	Sender      ProcessID    `json:"sender"`
	Receiver    ProcessID    `json:"receiver"`
	Type        MessageType  `json:"type"`
	Priority    uint8        `json:"priority"`
	TimestampMs uint64       `json:"timestamp_ms"`
	ReplyTo     *MessageID   `json:"reply_to,omitempty"`
	Flags       MessageFlags `json:"flags"`
}

// Message es un mensaje entre procesos. Capabilities son capacidades adjuntas
// que el receptor puede inspeccionar.
type Message struct {
	Header       MessageHeader `json:"header"`
	Data         MessageData   `json:"data"`
	Capabilities []Capability  `json:"capabilities,omitempty"`
}

// NewMessage arma un mensaje con prioridad por defecto. El ID y la marca de
// tiempo los asigna el servicio de IPC al enviarlo.
func NewMessage(sender, receiver ProcessID, messageType MessageType, data MessageData) Message {
	return Message{
		Header: MessageHeader{
			Sender:   sender,
			Receiver: receiver,
			Type:     messageType,
			Priority: DefaultMessagePriority,
		},
		Data: data,
	}
}

// CreateReply arma la respuesta a m: va al emisor original, hereda la prioridad
// y referencia a m en ReplyTo.
func (m Message) CreateReply(sender ProcessID, data MessageData) Message {
	original := m.Header.ID
	return Message{
		Header: MessageHeader{
			Sender:   sender,
			Receiver: m.Header.Sender,
			Type:     MessageResponse,
			Priority: m.Header.Priority,
			ReplyTo:  &original,
		},
		Data: data,
	}
}

func (m *Message) AttachCapabilities(capabilities []Capability) {
	m.Capabilities = capabilities
	m.Header.Flags.HasCapabilities = len(capabilities) > 0
}

func (m Message) IsReply() bool {
	return m.Header.ReplyTo != nil
}

// TotalSize es el tamaño que el mensaje descuenta del límite de la cola.
func (m Message) TotalSize() int {
	return MessageHeaderSize + m.Data.Size() + len(m.Capabilities)*CapabilitySize
}

// QueueStatistics es el estado de la cola de un proceso.
type QueueStatistics struct {
	PID              ProcessID `json:"pid"`
	PendingMessages  int       `json:"pending_messages"`
	TotalSizeBytes   int       `json:"total_size_bytes"`
	MessagesReceived uint64    `json:"messages_received"`
	MessagesSent     uint64    `json:"messages_sent"`
	QueueFullCount   uint64    `json:"queue_full_count"`
	MaxMessages      int       `json:"max_messages"`
	MaxSizeBytes     int       `json:"max_size_bytes"`
}

// GlobalQueueStatistics agrega las estadísticas de todas las colas.
type GlobalQueueStatistics struct {
	ActiveQueues          int    `json:"active_queues"`
	TotalPendingMessages  int    `json:"total_pending_messages"`
	TotalMessagesSent     uint64 `json:"total_messages_sent"`
	TotalMessagesReceived uint64 `json:"total_messages_received"`
	TotalQueueFullEvents  uint64 `json:"total_queue_full_events"`
	TotalQueuesCreated    uint64 `json:"total_queues_created"`
}

// IpcStatistics combina colas y capacidades.
type IpcStatistics struct {
	Queues       GlobalQueueStatistics `json:"queues"`
	Capabilities CapabilityStatistics  `json:"capabilities"`
}
