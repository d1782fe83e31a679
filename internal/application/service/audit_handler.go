package service

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/application/dispatcher"
	"github.com/garyjia/portal-workflow/internal/domain/event"
)

// AuditEventTypes are the engine events written to the audit log
var AuditEventTypes = []event.Type{
	event.TypeInstanceSubmitted,
	event.TypeTransitioned,
	event.TypeInstanceDeleted,
}

// NewAuditLogHandler returns a handler that writes one structured line per
// event to the "audit" logger. It never fails.
func NewAuditLogHandler(logger *zap.Logger) dispatcher.Handler {
	audit := logger.Named("audit")
	return func(ctx context.Context, evt *event.Event) error {
		keys := make([]string, 0, len(evt.Payload))
		for k := range evt.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fields := make([]zap.Field, 0, len(keys)+5)
		fields = append(fields,
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.Type.String()),
			zap.String("instance_kind", evt.InstanceKind.String()),
			zap.String("instance_id", evt.InstanceID),
			zap.Time("occurred_at", evt.Timestamp),
		)
		for _, k := range keys {
			fields = append(fields, zap.Any(k, evt.Payload[k]))
		}

		audit.Info("Workflow event", fields...)
		return nil
	}
}
