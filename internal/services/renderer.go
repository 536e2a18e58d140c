package services

import (
	"strconv"
	"strings"
	"time"

	"churnguard/internal/models"
)

// templateDateFormat is how snapshot dates appear in rendered emails.
const templateDateFormat = "Jan 2, 2006"

// RenderTemplate substitutes {variable_name} placeholders in text with
// snapshot-derived values. Placeholders outside the fixed mapping are
// left verbatim; templates may declare variables the renderer does not
// know about. Plain substitution only: HTML sanitization is the
// presentation layer's concern, not ours.
func RenderTemplate(text string, snap models.AnalyticsSnapshot) string {
	if text == "" {
		return text
	}

	lastSeen := "Never"
	if snap.LastSeen != nil {
		lastSeen = snap.LastSeen.Format(templateDateFormat)
	}

	replacer := strings.NewReplacer(
		"{customer_email}", snap.CustomerEmail,
		"{engagement_score}", strconv.Itoa(snap.EngagementScore),
		"{active_days}", strconv.Itoa(snap.ActiveDays),
		"{total_events}", strconv.Itoa(snap.TotalEvents),
		"{most_used_feature}", snap.MostUsedFeature,
		"{last_seen}", lastSeen,
		"{period_start}", formatPeriod(snap.PeriodStart),
		"{period_end}", formatPeriod(snap.PeriodEnd),
	)
	return replacer.Replace(text)
}

func formatPeriod(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(templateDateFormat)
}

// RenderedEmail is the per-customer output of rendering a trigger's
// template: subject, HTML body and text body rendered independently.
type RenderedEmail struct {
	Subject string
	HTML    string
	Text    string
}

// RenderEmail renders all three template parts for one snapshot.
func RenderEmail(tpl models.EmailTemplate, snap models.AnalyticsSnapshot) RenderedEmail {
	return RenderedEmail{
		Subject: RenderTemplate(tpl.Subject, snap),
		HTML:    RenderTemplate(tpl.BodyHTML, snap),
		Text:    RenderTemplate(tpl.BodyText, snap),
	}
}
