package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Inbox copy is French.

func bookingRef(id uuid.UUID) *uuid.UUID {
	return &id
}

func BookingRequestedNotice(b Booking, vacationTitle string) NewNotification {
	return NewNotification{
		UserID:           b.DoctorID,
		Title:            "Nouvelle demande de réservation",
		Message:          fmt.Sprintf("Un établissement souhaite réserver votre vacation « %s ».", vacationTitle),
		Type:             NotificationBookingRequest,
		RelatedBookingID: bookingRef(b.ID),
	}
}

func BookingAcceptedNotice(b Booking) NewNotification {
	return NewNotification{
		UserID:           b.EstablishmentID,
		Title:            "Réservation acceptée",
		Message:          "Votre demande de réservation a été acceptée par le médecin.",
		Type:             NotificationBookingAccepted,
		RelatedBookingID: bookingRef(b.ID),
	}
}

func BookingRejectedNotice(b Booking) NewNotification {
	return NewNotification{
		UserID:           b.EstablishmentID,
		Title:            "Réservation refusée",
		Message:          "Votre demande de réservation a été refusée par le médecin.",
		Type:             NotificationBookingRejected,
		RelatedBookingID: bookingRef(b.ID),
	}
}

// BookingSupersededNotice informs an establishment whose pending request lost the slot.
func BookingSupersededNotice(b Booking) NewNotification {
	return NewNotification{
		UserID:           b.EstablishmentID,
		Title:            "Réservation annulée",
		Message:          "Cette vacation a été attribuée à un autre établissement. Votre demande a été annulée.",
		Type:             NotificationBookingCancelled,
		RelatedBookingID: bookingRef(b.ID),
	}
}

func BookingCancelledNotice(b Booking, recipient uuid.UUID, reason string) NewNotification {
	message := "La réservation a été annulée."
	if r := strings.TrimSpace(reason); r != "" {
		message = fmt.Sprintf("La réservation a été annulée. Motif : %s", r)
	}
	return NewNotification{
		UserID:           recipient,
		Title:            "Réservation annulée",
		Message:          message,
		Type:             NotificationBookingCancelled,
		RelatedBookingID: bookingRef(b.ID),
	}
}

func BookingCompletedNotice(b Booking, recipient uuid.UUID) NewNotification {
	return NewNotification{
		UserID:           recipient,
		Title:            "Mission terminée",
		Message:          "La mission est terminée. Vous pouvez maintenant laisser un avis.",
		Type:             NotificationBookingCompleted,
		RelatedBookingID: bookingRef(b.ID),
	}
}

func PaymentReceivedNotice(b Booking) NewNotification {
	return NewNotification{
		UserID:           b.DoctorID,
		Title:            "Paiement reçu",
		Message:          fmt.Sprintf("Le paiement de %s pour votre réservation a été confirmé.", FormatEuros(b.TotalAmountCents)),
		Type:             NotificationPaymentReceived,
		RelatedBookingID: bookingRef(b.ID),
	}
}

func PaymentFailedNotice(b Booking, reason string) NewNotification {
	message := "Le paiement de votre réservation a échoué. Veuillez réessayer."
	if r := strings.TrimSpace(reason); r != "" {
		message = fmt.Sprintf("Le paiement de votre réservation a échoué (%s). Veuillez réessayer.", r)
	}
	return NewNotification{
		UserID:           b.EstablishmentID,
		Title:            "Échec du paiement",
		Message:          message,
		Type:             NotificationPaymentFailed,
		RelatedBookingID: bookingRef(b.ID),
	}
}

func ReviewReceivedNotice(r Review) NewNotification {
	return NewNotification{
		UserID:           r.RevieweeID,
		Title:            "Nouvel avis",
		Message:          fmt.Sprintf("Vous avez reçu un avis de %d/5.", r.Rating),
		Type:             NotificationReviewReceived,
		RelatedBookingID: bookingRef(r.BookingID),
	}
}

func SubscriptionUpdatedNotice(s Subscription) NewNotification {
	return NewNotification{
		UserID:  s.UserID,
		Title:   "Abonnement mis à jour",
		Message: fmt.Sprintf("Votre abonnement %s est maintenant « %s ».", s.PlanType.DisplayName(), s.Status),
		Type:    NotificationSubscriptionUpdated,
	}
}

func urgentRef(id uuid.UUID) *uuid.UUID {
	return &id
}

func UrgentResponseReceivedNotice(req UrgentRequest) NewNotification {
	return NewNotification{
		UserID:                 req.EstablishmentID,
		Title:                  "Nouvelle réponse à votre demande urgente",
		Message:                fmt.Sprintf("Un médecin a répondu à votre demande « %s ».", req.Title),
		Type:                   NotificationUrgentResponse,
		RelatedUrgentRequestID: urgentRef(req.ID),
	}
}

func UrgentResponseAcceptedNotice(req UrgentRequest, resp UrgentResponse) NewNotification {
	return NewNotification{
		UserID:                 resp.DoctorID,
		Title:                  "Réponse acceptée",
		Message:                fmt.Sprintf("Votre réponse à la demande urgente « %s » a été acceptée.", req.Title),
		Type:                   NotificationUrgentResponseAccepted,
		RelatedUrgentRequestID: urgentRef(req.ID),
	}
}

func UrgentResponseRejectedNotice(req UrgentRequest, resp UrgentResponse) NewNotification {
	return NewNotification{
		UserID:                 resp.DoctorID,
		Title:                  "Réponse non retenue",
		Message:                fmt.Sprintf("Votre réponse à la demande urgente « %s » n'a pas été retenue.", req.Title),
		Type:                   NotificationUrgentResponseRejected,
		RelatedUrgentRequestID: urgentRef(req.ID),
	}
}

func UrgentRequestCancelledNotice(req UrgentRequest, resp UrgentResponse) NewNotification {
	return NewNotification{
		UserID:                 resp.DoctorID,
		Title:                  "Demande urgente annulée",
		Message:                fmt.Sprintf("La demande urgente « %s » a été annulée par l'établissement.", req.Title),
		Type:                   NotificationUrgentRequestCancelled,
		RelatedUrgentRequestID: urgentRef(req.ID),
	}
}

func UrgentRequestExpiredNotice(req UrgentRequest) NewNotification {
	return NewNotification{
		UserID:                 req.EstablishmentID,
		Title:                  "Demande urgente expirée",
		Message:                fmt.Sprintf("Votre demande urgente « %s » a expiré sans être pourvue.", req.Title),
		Type:                   NotificationUrgentRequestExpired,
		RelatedUrgentRequestID: urgentRef(req.ID),
	}
}

// FormatEuros renders cents as a French-formatted euro amount, e.g. "1 250,50 €".
func FormatEuros(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	whole := cents / 100
	frac := cents % 100

	digits := fmt.Sprintf("%d", whole)
	var grouped strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			grouped.WriteRune(' ')
		}
		grouped.WriteRune(r)
	}
	return fmt.Sprintf("%s%s,%02d €", sign, grouped.String(), frac)
}
