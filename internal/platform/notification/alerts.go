package notification

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/opsbridge/opsbridge/internal/event"
)

// CaseAlerter turns accepted clinical events into outbound notifications:
// a completion email when a case ends, an SMS when a complication is
// reported, and an email when the clinician requests a lab adjustment.
// Other event types are ignored. A contact left empty disables that channel.
type CaseAlerter struct {
	manager      *NotificationManager
	emailContact string
	smsContact   string
	logger       zerolog.Logger
}

// NewCaseAlerter creates a CaseAlerter sending through the given manager.
// emailContact receives completion and lab-adjustment emails; smsContact
// receives complication alerts.
func NewCaseAlerter(manager *NotificationManager, emailContact, smsContact string, logger zerolog.Logger) *CaseAlerter {
	return &CaseAlerter{
		manager:      manager,
		emailContact: emailContact,
		smsContact:   smsContact,
		logger:       logger.With().Str("component", "case-alerter").Logger(),
	}
}

// AlertCase sends the notification matching sub's event type, if any.
func (a *CaseAlerter) AlertCase(ctx context.Context, sub *event.Submission) error {
	switch sub.EventType {
	case event.TypeEnd:
		if a.emailContact == "" {
			return nil
		}
		data := map[string]string{
			"case_id":      sub.CaseID,
			"completed_at": sub.Timestamp.UTC().Format(time.RFC3339),
		}
		n, err := a.manager.SendFromTemplate(ctx, "procedure-complete", data, a.emailContact)
		a.logSent(n, err)
		return err

	case event.TypeComplicationDetected:
		if a.smsContact == "" {
			return nil
		}
		data := map[string]string{
			"case_id":     sub.CaseID,
			"description": "unspecified",
			"severity":    "unknown",
		}
		if p, err := event.DecodePayload(sub.EventType, sub.Payload); err == nil {
			cp := p.(*event.ComplicationPayload)
			if cp.Description != "" {
				data["description"] = cp.Description
			}
			if cp.Severity != "" {
				data["severity"] = cp.Severity
			}
		}
		n, err := a.manager.SendFromTemplate(ctx, "complication-alert", data, a.smsContact)
		a.logSent(n, err)
		return err

	case event.TypeLabAdjustmentRequested:
		if a.emailContact == "" {
			return nil
		}
		data := map[string]string{
			"case_id":     sub.CaseID,
			"description": "see case timeline",
		}
		if p, err := event.DecodePayload(sub.EventType, sub.Payload); err == nil {
			lp := p.(*event.LabAdjustmentPayload)
			if lp.Instructions != "" {
				data["description"] = lp.Item + ": " + lp.Instructions
			}
		}
		n, err := a.manager.SendFromTemplate(ctx, "lab-adjustment", data, a.emailContact)
		a.logSent(n, err)
		return err
	}
	return nil
}

func (a *CaseAlerter) logSent(n *Notification, err error) {
	if err != nil || n == nil {
		return
	}
	a.logger.Info().
		Str("notification_id", n.ID).
		Str("template", n.TemplateID).
		Str("recipient", n.Recipient).
		Msg("case alert sent")
}
