package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// runCallback executes one completion callback. A callback may declare
// several shapes (database update, ticket system, webhook); every declared
// shape runs, and failures are joined so one shape failing does not stop the
// others.
func (r *CompletionResolver) runCallback(ctx context.Context, callback *CompletionCallback, execution *Execution, steps []*ExecutionStep) error {
	payload := buildCallbackPayload(execution, steps, callback.Mappings)

	var errs []error
	if callback.DatabaseUpdate != nil {
		if err := r.runDatabaseUpdate(ctx, callback.DatabaseUpdate, execution, payload); err != nil {
			errs = append(errs, err)
		}
	}
	if callback.Ticket != nil {
		if err := r.runTicketUpdate(ctx, callback.Ticket, execution); err != nil {
			errs = append(errs, err)
		}
	}
	if callback.Webhook != nil {
		if err := r.webhooks.Send(ctx, callback.Webhook, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// runDatabaseUpdate writes each resolved mapping value to the target record.
// The record id comes from the linked work item source when one exists,
// otherwise from work item metadata under the declared key. Fields outside
// the updater's allowed set for the table are skipped with a warning.
func (r *CompletionResolver) runDatabaseUpdate(ctx context.Context, spec *DatabaseUpdateSpec, execution *Execution, payload map[string]any) error {
	recordID, err := r.resolveRecordID(ctx, spec, execution)
	if err != nil {
		return err
	}

	allowed, err := r.fieldUpdater.AllowedFields(ctx, spec.TargetTable, execution.OrganizationID)
	if err != nil {
		return NewExternalFailure(err, "failed to load allowed fields for table %q", spec.TargetTable)
	}

	var errs []error
	for field, value := range payload {
		if reservedPayloadKey(field) {
			continue
		}
		if allowed != nil && !allowed[field] {
			r.logger.Warn("skipping field not allowed for table",
				"table", spec.TargetTable, "field", field)
			continue
		}
		if err := r.fieldUpdater.UpdateField(ctx, spec.TargetTable, recordID, field, value); err != nil {
			errs = append(errs, NewExternalFailure(err, "failed to update field %q on %s/%s", field, spec.TargetTable, recordID))
		}
	}
	return errors.Join(errs...)
}

func (r *CompletionResolver) resolveRecordID(ctx context.Context, spec *DatabaseUpdateSpec, execution *Execution) (string, error) {
	source, err := r.sourceLookup.GetWorkItemSource(ctx, execution.WorkItemID, execution.OrganizationID)
	if err != nil {
		return "", NewExternalFailure(err, "work item source lookup failed")
	}
	if source != nil && source.RecordID != "" {
		return source.RecordID, nil
	}
	if spec.RecordIDMetadataKey != "" {
		metadata, err := r.workItems.GetWorkItemMetadata(ctx, execution.WorkItemID, execution.OrganizationID)
		if err != nil {
			return "", NewExternalFailure(err, "work item metadata lookup failed")
		}
		if id, ok := metadata[spec.RecordIDMetadataKey].(string); ok && id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("no record id resolved for table %q", spec.TargetTable)
}

// runTicketUpdate looks up the ticket identifier in work item metadata under
// "<entityType>_id" and applies the configured status change and/or message.
func (r *CompletionResolver) runTicketUpdate(ctx context.Context, spec *TicketSystemSpec, execution *Execution) error {
	metadata, err := r.workItems.GetWorkItemMetadata(ctx, execution.WorkItemID, execution.OrganizationID)
	if err != nil {
		return NewExternalFailure(err, "work item metadata lookup failed")
	}
	entityID, _ := metadata[spec.EntityType+"_id"].(string)
	if entityID == "" {
		return fmt.Errorf("no %s id in work item metadata", spec.EntityType)
	}

	var errs []error
	if spec.StatusID != "" {
		if err := r.tickets.UpdateTicketStatus(ctx, spec.EntityType, entityID, spec.StatusID); err != nil {
			errs = append(errs, NewExternalFailure(err, "ticket status update failed for %s", entityID))
		}
	}
	if spec.Message != "" {
		message := renderTicketMessage(spec.Message, execution)
		if err := r.tickets.AddTicketMessage(ctx, entityID, message); err != nil {
			errs = append(errs, NewExternalFailure(err, "ticket message failed for %s", entityID))
		}
	}
	return errors.Join(errs...)
}

// renderTicketMessage substitutes the supported placeholders into a ticket
// message template.
func renderTicketMessage(message string, execution *Execution) string {
	message = strings.ReplaceAll(message, "{workItemId}", execution.WorkItemID)
	message = strings.ReplaceAll(message, "{completedAt}", execution.CompletedAt.Format(time.RFC3339))
	return message
}
