package envelope

import (
	"context"
	"strings"

	"github.com/angelmondragon/schemabridge/pkg/enums"
	"github.com/angelmondragon/schemabridge/pkg/errors"
	"github.com/angelmondragon/schemabridge/pkg/logger"
)

const (
	// Unknown is returned for identity fields absent from a usable envelope.
	Unknown = "UNKNOWN"
	// CreateNewAddress marks a customer creation that mints its own address.
	CreateNewAddress = "CREATE_NEW_ADDRESS"

	customerType   = "CUSTOMER"
	addressIDField = "AddressId"
)

// Extractor reads identity and dependency fields from change events. All
// paths share the message's cached Envelope and Fields.Lookup.
type Extractor struct {
	logg *logger.Logger
}

func NewExtractor(logg *logger.Logger) *Extractor {
	return &Extractor{logg: logg}
}

// ExtractEventType returns aggregate_type, falling back to event_type. Snapshot
// markers yield "". A malformed envelope is a hard failure.
func (x *Extractor) ExtractEventType(ctx context.Context, msg *Message) (string, error) {
	env, err := msg.Envelope()
	if err != nil {
		x.error(ctx, "extract event type", err)
		return "", err
	}
	if env.IsSnapshot() {
		return "", nil
	}
	if !env.AggregateType.IsEmpty() {
		return env.AggregateType.String(), nil
	}
	if !env.EventType.IsEmpty() {
		return env.EventType.String(), nil
	}
	x.warn(ctx, msg, "envelope has neither aggregate_type nor event_type")
	return Unknown, nil
}

// ExtractAggregateID returns aggregate_id. Snapshot markers yield "".
func (x *Extractor) ExtractAggregateID(ctx context.Context, msg *Message) (string, error) {
	env, err := msg.Envelope()
	if err != nil {
		x.error(ctx, "extract aggregate id", err)
		return "", err
	}
	if env.IsSnapshot() {
		return "", nil
	}
	if env.AggregateID.IsEmpty() {
		x.warn(ctx, msg, "envelope has no aggregate_id")
		return Unknown, nil
	}
	return env.AggregateID.String(), nil
}

func (x *Extractor) ExtractEventSource(ctx context.Context, msg *Message) (string, error) {
	env, err := msg.Envelope()
	if err != nil {
		x.error(ctx, "extract event source", err)
		return "", err
	}
	return env.SourceName.String(), nil
}

// ExtractOperation reads __op, then event_type, accepting either the long or
// the single-letter form. Anything else is an UNKNOWN_OPERATION error.
func (x *Extractor) ExtractOperation(ctx context.Context, msg *Message) (enums.Operation, error) {
	env, err := msg.Envelope()
	if err != nil {
		x.error(ctx, "extract operation", err)
		return "", err
	}
	for _, candidate := range []Text{env.Op, env.EventType} {
		if candidate.IsEmpty() {
			continue
		}
		if op, err := enums.ParseOperation(candidate.String()); err == nil {
			return op, nil
		}
	}
	if strings.EqualFold(env.Deleted.String(), "true") {
		return enums.OperationDeleted, nil
	}
	return "", errors.New(errors.CodeUnknownOperation, "unrecognized operation").
		WithDetails(map[string]any{"op": env.Op.String(), "event_type": env.EventType.String()})
}

// ExtractDependencyID reads idField from the nested payload. It never fails:
// absent fields and unparsable payloads yield "".
func (x *Extractor) ExtractDependencyID(ctx context.Context, msg *Message, idField string) string {
	env, err := msg.Envelope()
	if err != nil {
		x.warn(ctx, msg, "dependency id unavailable: envelope is malformed")
		return ""
	}
	if env.IsSnapshot() {
		return ""
	}
	if x.mintsOwnAddress(ctx, msg, env, idField) {
		return CreateNewAddress
	}
	fields, err := env.Fields()
	if err != nil {
		x.warn(ctx, msg, "dependency id unavailable: "+err.Error())
		return ""
	}
	value, _ := fields.Lookup(idField)
	return value
}

func (x *Extractor) mintsOwnAddress(ctx context.Context, msg *Message, env *Envelope, idField string) bool {
	if !strings.EqualFold(idField, addressIDField) {
		return false
	}
	eventType := env.AggregateType
	if eventType.IsEmpty() {
		eventType = env.EventType
	}
	if !strings.EqualFold(eventType.String(), customerType) {
		return false
	}
	op, err := x.ExtractOperation(ctx, msg)
	return err == nil && op == enums.OperationCreated
}

// Direction resolves the event's sync direction from __source_name.
func (x *Extractor) Direction(msg *Message, names enums.SourceNames) enums.Direction {
	env, err := msg.Envelope()
	if err != nil {
		return enums.DirectionUnknown
	}
	return names.Direction(env.SourceName.String())
}

// Matches reports whether msg is the event for (eventType, aggregateID),
// comparing trimmed values case-insensitively.
func (x *Extractor) Matches(ctx context.Context, msg *Message, eventType, aggregateID string) bool {
	gotType, err := x.ExtractEventType(ctx, msg)
	if err != nil || gotType == "" {
		return false
	}
	gotID, err := x.ExtractAggregateID(ctx, msg)
	if err != nil || gotID == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(gotType), strings.TrimSpace(eventType)) &&
		strings.EqualFold(strings.TrimSpace(gotID), strings.TrimSpace(aggregateID))
}

func (x *Extractor) warn(ctx context.Context, msg *Message, text string) {
	if x == nil || x.logg == nil {
		return
	}
	if msg != nil {
		ctx = x.logg.WithField(ctx, "offset", msg.Offset.String())
	}
	x.logg.Warn(ctx, text)
}

func (x *Extractor) error(ctx context.Context, text string, err error) {
	if x == nil || x.logg == nil {
		return
	}
	x.logg.Error(ctx, text, err)
}
