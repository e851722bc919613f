package notify

import (
	"fmt"
	"strings"
)

type message struct {
	To      string
	Subject string
	Body    string
}

// buildMessage formats the email for a task, or reports false when the
// notification settings gate this task type off. A gated task counts as
// delivered.
func buildMessage(t *Task, res Reservation, adminEmail string, s Settings) (message, bool) {
	if t.Type == TypeAdminNotification {
		if !s.SendAdminEmails || adminEmail == "" {
			return message{}, false
		}
		return message{
			To:      adminEmail,
			Subject: fmt.Sprintf("New reservation request: %s on %s", res.Room, res.Day),
			Body:    adminBody(res),
		}, true
	}

	if !s.SendUserEmails {
		return message{}, false
	}
	to := t.Recipient
	if to == "" {
		to = res.Email
	}
	if to == "" {
		return message{}, false
	}

	var subject, lead string
	switch t.Type {
	case TypeUserConfirmation:
		subject = fmt.Sprintf("Reservation request received for %s", res.Day)
		lead = "We received your reservation request. You will get another email once staff review it."
	case TypeApproval:
		subject = fmt.Sprintf("Reservation confirmed for %s", res.Day)
		lead = "Good news: your reservation has been approved."
	case TypeRejection:
		subject = fmt.Sprintf("Reservation request declined for %s", res.Day)
		lead = "Unfortunately your reservation request could not be accommodated."
	case TypeCancellation:
		subject = fmt.Sprintf("Reservation cancelled for %s", res.Day)
		lead = "Your reservation has been cancelled."
	case TypeReminder:
		subject = fmt.Sprintf("Reminder: reservation today (%s)", res.Day)
		lead = "A reminder about your reservation today."
	default:
		return message{}, false
	}

	return message{To: to, Subject: subject, Body: userBody(res, lead)}, true
}

func userBody(res Reservation, lead string) string {
	var b strings.Builder
	if res.Name != "" {
		fmt.Fprintf(&b, "Hello %s,\n\n", res.Name)
	} else {
		b.WriteString("Hello,\n\n")
	}
	b.WriteString(lead)
	b.WriteString("\n\n")
	writeDetails(&b, res)
	b.WriteString("\nThis is an automated message; replies are not monitored.\n")
	return b.String()
}

func adminBody(res Reservation) string {
	var b strings.Builder
	b.WriteString("A new reservation request is waiting for review.\n\n")
	writeDetails(&b, res)
	if res.Note != "" {
		fmt.Fprintf(&b, "Note from requester:\n%s\n", res.Note)
	}
	return b.String()
}

func writeDetails(b *strings.Builder, res Reservation) {
	fmt.Fprintf(b, "Room:  %s\n", res.Room)
	fmt.Fprintf(b, "Date:  %s\n", res.Day)
	fmt.Fprintf(b, "Time:  %s - %s\n", res.StartTime, res.EndTime)
	if res.Name != "" {
		fmt.Fprintf(b, "Name:  %s\n", res.Name)
	}
	if res.Email != "" {
		fmt.Fprintf(b, "Email: %s\n", res.Email)
	}
}
