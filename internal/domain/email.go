package domain

type EmailTemplate string

const (
	EmailBookingConfirmed  EmailTemplate = "booking_confirmed"
	EmailPaymentReceived   EmailTemplate = "payment_received"
	EmailBookingCancelled  EmailTemplate = "booking_cancelled"
	EmailNewBookingRequest EmailTemplate = "new_booking_request"
	EmailCriticalError     EmailTemplate = "critical_error"
)

func (t EmailTemplate) Valid() bool {
	switch t {
	case EmailBookingConfirmed, EmailPaymentReceived, EmailBookingCancelled, EmailNewBookingRequest, EmailCriticalError:
		return true
	}
	return false
}

// Subject is the French subject line for each template.
func (t EmailTemplate) Subject() string {
	switch t {
	case EmailBookingConfirmed:
		return "Votre réservation est confirmée"
	case EmailPaymentReceived:
		return "Paiement reçu"
	case EmailBookingCancelled:
		return "Réservation annulée"
	case EmailNewBookingRequest:
		return "Nouvelle demande de réservation"
	case EmailCriticalError:
		return "[Cureliah] Erreur critique détectée"
	}
	return "Cureliah"
}

// TemplateForNotification maps inbox notifications that also deserve an email.
func TemplateForNotification(t NotificationType) (EmailTemplate, bool) {
	switch t {
	case NotificationBookingRequest:
		return EmailNewBookingRequest, true
	case NotificationBookingAccepted:
		return EmailBookingConfirmed, true
	case NotificationBookingCancelled, NotificationBookingRejected:
		return EmailBookingCancelled, true
	case NotificationPaymentReceived:
		return EmailPaymentReceived, true
	}
	return "", false
}
