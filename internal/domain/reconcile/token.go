// Package reconcile settles payments when the payer returns from the
// gateway's redirect round trip.
package reconcile

import (
	"net/url"

	"github.com/xenking/vetclinic-pos/internal/domain/payment"
)

// Query parameters of the gateway return URL.
const (
	ParamRedirectStatus = "redirect_status"
	ParamIntent         = "payment_intent"
	ParamIntentSecret   = "payment_intent_client_secret"
)

// StatusSucceeded is the redirect status of a completed payment.
const StatusSucceeded = "succeeded"

var payableKinds = []payment.PayableKind{payment.PayableAppointment, payment.PayableSale}

// Token is the correlation token carried by a return URL. It identifies a
// payable and never authorises anything on its own.
type Token struct {
	Payable        payment.Payable
	RedirectStatus string
}

// Succeeded reports whether the gateway redirected with a success status.
func (t Token) Succeeded() bool {
	return t.RedirectStatus == StatusSucceeded
}

// ParseToken reads the correlation token from return URL parameters. It
// requires exactly one payable id.
func ParseToken(q url.Values) (Token, bool) {
	var (
		tok   Token
		found int
	)
	for _, kind := range payableKinds {
		id := q.Get(kind.QueryParam())
		if id == "" {
			continue
		}
		found++
		tok.Payable = payment.Payable{Kind: kind, ID: id}
	}
	if found != 1 {
		return Token{}, false
	}
	tok.RedirectStatus = q.Get(ParamRedirectStatus)
	return tok, true
}

// CleanURL returns a copy of u without the correlation token and the
// parameters the gateway appends, so that reloading the view does not
// reconcile again.
func CleanURL(u *url.URL) *url.URL {
	clean := *u
	q := clean.Query()
	q.Del(ParamRedirectStatus)
	q.Del(ParamIntent)
	q.Del(ParamIntentSecret)
	for _, kind := range payableKinds {
		q.Del(kind.QueryParam())
	}
	clean.RawQuery = q.Encode()
	return &clean
}
