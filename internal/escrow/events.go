package escrow

import "github.com/ethereum/go-ethereum/common"

// EventType names one of the observable occurrences this package emits.
// Grounded on the teacher's fusion.Relayer.GetEventChannel pattern
// (internal/fusion/relayer.go), generalized from its two order-lifecycle
// events to the full escrow/order/auction surface in SPEC_FULL.md §6.
type EventType string

const (
	EventEscrowCreated    EventType = "EscrowCreated"
	EventSrcEscrowCreated EventType = "SrcEscrowCreated"
	EventDstEscrowCreated EventType = "DstEscrowCreated"
	EventWithdrawn        EventType = "Withdrawn"
	EventCancelled        EventType = "Cancelled"
	EventRescued          EventType = "Rescued"
	EventOrderFilled      EventType = "OrderFilled"
	EventSecretValidated  EventType = "SecretValidated"
)

// Event is the uniform payload carried on every subsystem's event channel.
// Fields not relevant to a given EventType are left at their zero value.
// Immutables and DstComplement are populated only on SrcEscrowCreated, per
// SPEC_FULL.md §6's SrcEscrowCreated{address, immutables, dst_complement,
// timestamp} contract — observers need both to independently derive and
// create the matching destination escrow (§2 step 3).
type Event struct {
	Type          EventType
	Address       common.Hash
	OrderHash     common.Hash
	Role          Role
	Secret        []byte
	SecretIdx     uint64
	Recipient     common.Address
	Amount        uint64
	Timestamp     uint32
	Immutables    Immutables
	DstComplement DstComplement
}

// Publisher is anything that accepts Events. EscrowInstance, FactoryRegistry
// and OrderInteraction depend on this narrow interface rather than *EventBus
// directly, so tests can substitute a recording stub.
type Publisher interface {
	Publish(ev Event)
}

// EventBus is a fan-out point for Event consumers. Grounded on the teacher's
// buffered-channel-per-subscriber approach in fusion.Relayer, generalized
// to multiple subscribers. cmd/escrowd creates one bus for its
// FactoryRegistry but subscribes nothing to it; the HTTP API exposes no
// event feed and events are not persisted.
type EventBus struct {
	subscribers []chan Event
}

// NewEventBus returns an empty EventBus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe returns a new buffered channel that receives every future
// Publish. The channel is never closed by EventBus; callers drop it by
// simply no longer reading.
func (b *EventBus) Subscribe(buffer int) chan Event {
	ch := make(chan Event, buffer)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Publish fans ev out to every subscriber, dropping it for any subscriber
// whose buffer is full rather than blocking the caller.
func (b *EventBus) Publish(ev Event) {
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
