package handler

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/vetclinic-pos/internal/domain/reconcile"
	"github.com/xenking/vetclinic-pos/internal/notify"
)

// PaymentReturn reconciles a gateway return. Browsers are redirected to
// the return view without the token so a reload does not reconcile again;
// other clients get the outcome as JSON.
func (h *Handler) PaymentReturn(w http.ResponseWriter, r *http.Request) {
	out, err := h.reconciler.Reconcile(r.Context(), r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.reconciliations.Add(r.Context(), 1, metric.WithAttributes(
		attribute.String("result", string(out.Result)),
	))

	if out.Result != reconcile.ResultNone && wantsHTML(r) {
		http.Redirect(w, r, h.returnView(r.URL).String(), http.StatusSeeOther)
		return
	}
	writeJSON(w, r, http.StatusOK, toReconcileResponse(out))
}

func (h *Handler) returnView(u *url.URL) *url.URL {
	clean := reconcile.CleanURL(u)
	if h.cfg.ReturnViewURL == "" {
		return clean
	}
	view, err := url.Parse(h.cfg.ReturnViewURL)
	if err != nil {
		return clean
	}
	q := view.Query()
	for k, vs := range clean.Query() {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	view.RawQuery = q.Encode()
	return view
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// Notifications returns the notices published after the given sequence.
// Staff see every notice; payers see only their own.
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	var after uint64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, r, &requestError{Field: "after", Message: "after must be a sequence number"})
			return
		}
		after = n
	}
	var visible func(notify.Notice) bool
	if p := principal(r); !p.Role.Capabilities().SelectAnyPayer {
		visible = notify.OwnedBy(p.SubjectID)
	}
	notices := h.feed.Since(after, visible)
	resp := make([]noticeResponse, len(notices))
	for i, n := range notices {
		resp[i] = toNoticeResponse(n)
	}
	writeJSON(w, r, http.StatusOK, resp)
}
