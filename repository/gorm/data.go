package gorm

import (
	"database/sql"
	"time"

	"github.com/3rs4lg4d0/eventpipe/evp"
	"github.com/google/uuid"
)

// outboxRow is the shape of an outbox row as returned by the claim and
// get queries.
type outboxRow struct {
	ID          uuid.UUID
	EventType   string
	Payload     []byte
	OccurredAt  time.Time
	ProcessedAt sql.NullTime
	Error       sql.NullString
	Attempts    int
}

func (o outboxRow) record() *evp.OutboxRecord {
	or := &evp.OutboxRecord{
		Envelope: evp.Envelope{
			Id:         o.ID,
			Type:       o.EventType,
			Payload:    o.Payload,
			OccurredAt: o.OccurredAt,
		},
		Attempts: o.Attempts,
	}
	if o.ProcessedAt.Valid {
		t := o.ProcessedAt.Time
		or.ProcessedAt = &t
	}
	if o.Error.Valid {
		s := o.Error.String
		or.Error = &s
	}
	return or
}
