// Package handler holds what the broker forwarding handlers have in common.
package handler

import (
	"fmt"

	"github.com/iancoleman/strcase"
)

const (
	HeaderId        = "id"
	HeaderEventType = "eventType"
)

// TopicName builds a topic name from an event type (e.g. if eventType="OrderPlaced"
// then topic name is "outbox-order-placed").
func TopicName(eventType string) string {
	return fmt.Sprintf("outbox-%s", strcase.ToKebab(eventType))
}
