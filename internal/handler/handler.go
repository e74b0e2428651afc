// Package handler exposes the point-of-sale and payment API over HTTP.
package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/vetclinic-pos/internal/domain/appointment"
	"github.com/xenking/vetclinic-pos/internal/domain/cart"
	"github.com/xenking/vetclinic-pos/internal/domain/pricing"
	"github.com/xenking/vetclinic-pos/internal/domain/reconcile"
	"github.com/xenking/vetclinic-pos/internal/domain/sale"
	"github.com/xenking/vetclinic-pos/internal/notify"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// CurrencySymbol prefixes formatted amounts.
	CurrencySymbol string
	// ReturnViewURL is where browsers are sent after a payment return was
	// reconciled. When empty, the return URL itself is used without its
	// token.
	ReturnViewURL string
}

// Params holds the dependencies of the Handler.
type Params struct {
	Carts        *cart.Registry
	Catalog      cart.Catalog
	Calculator   *pricing.Calculator
	Sales        *sale.Coordinator
	Appointments *appointment.Service
	Reconciler   *reconcile.Reconciler
	Feed         *notify.Feed
	Security     *SecurityHandler
	Meter        metric.Meter
}

// Handler serves the API, delegating business logic to the domain
// services.
type Handler struct {
	cfg          Config
	carts        *cart.Registry
	catalog      cart.Catalog
	calc         *pricing.Calculator
	sales        *sale.Coordinator
	appointments *appointment.Service
	reconciler   *reconcile.Reconciler
	feed         *notify.Feed
	security     *SecurityHandler
	validate     *validator.Validate

	submissions     metric.Int64Counter
	confirmations   metric.Int64Counter
	reconciliations metric.Int64Counter
}

// New constructs a Handler.
func New(cfg Config, p Params) (*Handler, error) {
	h := &Handler{
		cfg:          cfg,
		carts:        p.Carts,
		catalog:      p.Catalog,
		calc:         p.Calculator,
		sales:        p.Sales,
		appointments: p.Appointments,
		reconciler:   p.Reconciler,
		feed:         p.Feed,
		security:     p.Security,
		validate:     newValidator(),
	}

	var err error
	if h.submissions, err = p.Meter.Int64Counter("vetpos.sales.submitted",
		metric.WithDescription("Sale submissions by payment method and result"),
	); err != nil {
		return nil, errors.Wrap(err, "create submissions counter")
	}
	if h.confirmations, err = p.Meter.Int64Counter("vetpos.payments.confirmations",
		metric.WithDescription("Payment confirmation attempts by payable kind and state"),
	); err != nil {
		return nil, errors.Wrap(err, "create confirmations counter")
	}
	if h.reconciliations, err = p.Meter.Int64Counter("vetpos.payments.reconciliations",
		metric.WithDescription("Payment return reconciliations by result"),
	); err != nil {
		return nil, errors.Wrap(err, "create reconciliations counter")
	}
	return h, nil
}

// Routes returns the API router mounted under /api.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		// Browsers land here from the gateway without credentials.
		r.Get("/payments/return", h.PaymentReturn)

		r.Group(func(r chi.Router) {
			r.Use(h.security.Middleware)

			r.Route("/carts", func(r chi.Router) {
				r.Post("/", h.OpenCart)
				r.Route("/{cartID}", func(r chi.Router) {
					r.Get("/", h.GetCart)
					r.Delete("/", h.ClearCart)
					r.Post("/items", h.AddItem)
					r.Put("/items/{kind}/{catalogID}", h.SetQuantity)
					r.Delete("/items/{kind}/{catalogID}", h.RemoveItem)
					r.Put("/payer", h.SelectPayer)
					r.Post("/checkout", h.Checkout)
				})
			})
			r.Route("/sales/{saleID}", func(r chi.Router) {
				r.Get("/", h.GetSale)
				r.Post("/confirm", h.ConfirmSale)
				r.Post("/cancel", h.CancelSale)
				r.Post("/abandon", h.AbandonSale)
			})
			r.Get("/appointments", h.ListAppointments)
			r.Post("/appointments/{id}/payment", h.BeginAppointmentPayment)
			r.Post("/appointments/{id}/confirm", h.ConfirmAppointment)
			r.Get("/notifications", h.Notifications)
		})
	})
	return r
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

// decode reads a JSON body into dest and validates it. An empty body is
// accepted when dest has no required fields.
func (h *Handler) decode(r *http.Request, dest any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()

	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		return &requestError{Message: "invalid request body"}
	}
	if err := h.validate.Struct(dest); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &requestError{Field: verrs[0].Field(), Message: validationMessage(verrs[0])}
		}
		return &requestError{Message: "invalid request body"}
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fe.Field() + " must be one of " + fe.Param()
	case "min", "gte":
		return fe.Field() + " must be at least " + fe.Param()
	}
	return fe.Field() + " is invalid"
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	State   string `json:"state,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zctx.From(r.Context()).Warn("Encode response", zap.Error(err))
	}
}
