package backend

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/vetclinic-pos/internal/domain/payment"
)

var _ payment.IntentClient = (*Client)(nil)

// CreateIntent asks the payment-intent service for an intent settling p.
func (c *Client) CreateIntent(ctx context.Context, p payment.Payable) (*payment.PaymentIntent, error) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ObjStart()
	e.FieldStart("payableId")
	e.Str(p.ID)
	e.FieldStart("payableKind")
	e.Str(string(p.Kind))
	e.ObjEnd()

	data, err := c.do(ctx, http.MethodPost, "/payments/create-intent", nil, e.Bytes())
	if err != nil {
		return nil, err
	}

	intent := &payment.PaymentIntent{Payable: p}
	d := jx.DecodeBytes(data)
	err = d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "clientSecret":
			if d.Next() == jx.Null {
				return d.Null()
			}
			intent.ClientSecret, err = d.Str()
		case "id", "paymentIntentId":
			intent.ID, err = decodeID(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode intent response")
	}
	return intent, nil
}
