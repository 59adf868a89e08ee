package crawler

const (
	QuitSignal EventType = iota
	TransactionSeen
	TransactionConfirmed
)

type EventType int

func (et EventType) String() string {
	switch et {
	case QuitSignal:
		return "QuitSignal"
	case TransactionSeen:
		return "TransactionSeen"
	case TransactionConfirmed:
		return "TransactionConfirmed"
	default:
		return "Unknown"
	}
}

// TransactionEvent notifies that an observed tx has been seen or confirmed.
type TransactionEvent struct {
	EventType     EventType
	TxID          string
	ObserverID    string
	Confirmations uint32
	BlockHeight   uint32
	BlockTime     int64
}

func (t TransactionEvent) Type() EventType {
	return t.EventType
}

// QuitEvent is the last event emitted before the crawler stops.
type QuitEvent struct{}

func (q QuitEvent) Type() EventType {
	return QuitSignal
}
