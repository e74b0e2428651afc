package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/vetclinic-pos/internal/domain/payment"
)

func parseRange(r *http.Request) (start, end time.Time, err error) {
	q := r.URL.Query()
	if start, err = time.Parse(time.RFC3339, q.Get("start")); err != nil {
		return start, end, &requestError{Field: "start", Message: "start must be an RFC 3339 time"}
	}
	if end, err = time.Parse(time.RFC3339, q.Get("end")); err != nil {
		return start, end, &requestError{Field: "end", Message: "end must be an RFC 3339 time"}
	}
	if !end.After(start) {
		return start, end, &requestError{Field: "end", Message: "end must be after start"}
	}
	return start, end, nil
}

// ListAppointments returns the appointments in [start, end) visible to the
// caller.
func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	appts, err := h.appointments.List(r.Context(), principal(r), start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]appointmentResponse, len(appts))
	for i := range appts {
		resp[i] = toAppointmentResponse(&appts[i])
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// BeginAppointmentPayment prices the appointment and opens its payment
// session.
func (h *Handler) BeginAppointmentPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.appointments.BeginPayment(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, appointmentPaymentResponse{
		Appointment: toAppointmentResponse(p.Appointment),
		Totals:      h.totals(p.Pricing),
	})
}

// ConfirmAppointment runs a confirmation attempt for the appointment.
func (h *Handler) ConfirmAppointment(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.appointments.Confirm(r.Context(), principal(r), chi.URLParam(r, "id"),
		payment.ConfirmRequest{PaymentMethodID: req.PaymentMethodID})
	h.writeOutcome(w, r, payment.PayableAppointment, out, err)
}
