package reconcile

import (
	"context"
	"fmt"
	"net/url"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/vetclinic-pos/internal/domain/payment"
	"github.com/xenking/vetclinic-pos/internal/notify"
)

// Result is the kind of reconciliation outcome.
type Result string

const (
	// ResultNone means the URL carried no correlation token.
	ResultNone Result = "none"
	// ResultNotCompleted means the payment did not succeed.
	ResultNotCompleted Result = "not_completed"
	// ResultMismatch means no pending payment matches the token.
	ResultMismatch Result = "mismatch"
	// ResultCompleted means this call completed the payment.
	ResultCompleted Result = "completed"
	// ResultAlreadyCompleted means the token was reconciled before.
	ResultAlreadyCompleted Result = "already_completed"
)

// Outcome is the result of reconciling a return URL.
type Outcome struct {
	Result  Result
	Payable payment.Payable
	// Notice describes the outcome for the caller. Only completions are
	// published to the notifier.
	Notice *notify.Notice
}

// Guard is a fast-path dedupe of reconciliations.
type Guard interface {
	// CheckAndMark marks key and reports whether it was unmarked.
	CheckAndMark(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Verifier asks the gateway for the current status of an intent.
type Verifier interface {
	Verify(ctx context.Context, intentID string) (payment.IntentStatus, error)
}

// Reconciler completes payments from return URL tokens. It may be invoked
// any number of times for the same token; only the first successful call
// emits a completion notice.
type Reconciler struct {
	ledger    payment.Ledger
	completer payment.Completer
	guard     Guard
	verifier  Verifier
	notifier  notify.Notifier
}

// NewReconciler creates a Reconciler. guard and verifier may be nil.
func NewReconciler(
	ledger payment.Ledger,
	completer payment.Completer,
	notifier notify.Notifier,
	guard Guard,
	verifier Verifier,
) *Reconciler {
	return &Reconciler{
		ledger:    ledger,
		completer: completer,
		guard:     guard,
		verifier:  verifier,
		notifier:  notifier,
	}
}

func guardKey(p payment.Payable) string {
	return fmt.Sprintf("reconcile:%s:%s", p.Kind, p.ID)
}

// Reconcile settles the payment identified by the return URL parameters q.
func (r *Reconciler) Reconcile(ctx context.Context, q url.Values) (*Outcome, error) {
	tok, ok := ParseToken(q)
	if !ok {
		return &Outcome{Result: ResultNone}, nil
	}
	p := tok.Payable
	lg := zctx.From(ctx).With(zap.Stringer("payable", p), zap.String("redirect_status", tok.RedirectStatus))

	if !tok.Succeeded() {
		lg.Info("Return without completed payment")
		return reply(ResultNotCompleted, p, notify.LevelInfo,
			fmt.Sprintf("payment for %s was not completed", p)), nil
	}

	rec, err := r.ledger.Find(ctx, p)
	if err != nil {
		var notFound *payment.RecordNotFoundError
		if errors.As(err, &notFound) {
			lg.Info("No pending payment matches return token")
			return reply(ResultMismatch, p, notify.LevelInfo,
				fmt.Sprintf("no pending payment matches %s", p)), nil
		}
		return nil, errors.Wrap(err, "find payment")
	}
	if rec.Status == payment.RecordFailed {
		lg.Info("Return token matches an abandoned payment")
		return reply(ResultMismatch, p, notify.LevelInfo,
			fmt.Sprintf("no pending payment matches %s", p)), nil
	}

	key := guardKey(p)
	if r.guard != nil {
		fresh, err := r.guard.CheckAndMark(ctx, key)
		switch {
		case err != nil:
			// Fall back to the durable mark.
			lg.Warn("Reconciliation guard unavailable", zap.Error(err))
		case !fresh:
			lg.Debug("Return token already reconciled")
			return &Outcome{Result: ResultAlreadyCompleted, Payable: p}, nil
		}
	}

	out, err := r.complete(ctx, rec)
	if err != nil || out.Result != ResultCompleted {
		r.release(ctx, key, out)
	}
	return out, err
}

func (r *Reconciler) complete(ctx context.Context, rec *payment.Record) (*Outcome, error) {
	p := rec.Payable
	if rec.Status == payment.RecordPending && r.verifier != nil {
		status, err := r.verifier.Verify(ctx, rec.IntentID)
		if err != nil {
			return nil, errors.Wrap(err, "verify intent")
		}
		if status != payment.IntentSucceeded {
			zctx.From(ctx).Warn("Return token disagrees with gateway",
				zap.Stringer("payable", p),
				zap.String("intent_status", string(status)),
			)
			return reply(ResultNotCompleted, p, notify.LevelInfo,
				fmt.Sprintf("payment for %s is %s", p, status)), nil
		}
	}

	if _, err := r.completer.CompletePayment(ctx, p); err != nil {
		return nil, errors.Wrap(err, "complete payment")
	}
	first, err := r.ledger.MarkNotified(ctx, p)
	if err != nil {
		return nil, errors.Wrap(err, "mark notified")
	}
	if !first {
		return &Outcome{Result: ResultAlreadyCompleted, Payable: p}, nil
	}
	out := reply(ResultCompleted, p, notify.LevelSuccess, fmt.Sprintf("%s completed", p))
	out.Notice.Owner = rec.PayerID
	r.notifier.Notify(ctx, *out.Notice)
	return out, nil
}

// release unmarks key unless the token has been reconciled for good.
func (r *Reconciler) release(ctx context.Context, key string, out *Outcome) {
	if r.guard == nil || (out != nil && out.Result == ResultAlreadyCompleted) {
		return
	}
	if err := r.guard.Delete(ctx, key); err != nil {
		zctx.From(ctx).Warn("Release reconciliation guard", zap.String("key", key), zap.Error(err))
	}
}

func reply(res Result, p payment.Payable, level notify.Level, msg string) *Outcome {
	return &Outcome{Result: res, Payable: p, Notice: &notify.Notice{Level: level, Message: msg, Subject: p.String()}}
}
