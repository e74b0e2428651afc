package backend

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/vetclinic-pos/internal/domain/pricing"
	"github.com/xenking/vetclinic-pos/internal/domain/sale"
)

var _ sale.Recorder = (*Client)(nil)

func encodeAmount(e *jx.Encoder, d decimal.Decimal) {
	e.RawStr(d.StringFixed(pricing.MinorUnitPlaces))
}

func encodeRecordRequest(e *jx.Encoder, req sale.RecordRequest) {
	e.ObjStart()
	e.FieldStart("payerId")
	e.Str(req.PayerID)
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range req.Items {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(it.CatalogID)
		e.FieldStart("kind")
		e.Str(string(it.Kind))
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("price")
		encodeAmount(e, it.UnitPrice)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("paymentMethod")
	e.Str(string(req.PaymentMethod))
	e.FieldStart("subtotal")
	encodeAmount(e, req.Pricing.Subtotal)
	e.FieldStart("taxAmount")
	encodeAmount(e, req.Pricing.TaxAmount)
	e.FieldStart("totalAmount")
	encodeAmount(e, req.Pricing.Total)
	e.ObjEnd()
}

func decodeRecordResult(data []byte) (*sale.RecordResult, error) {
	var res sale.RecordResult
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "saleId", "id":
			res.SaleID, err = decodeID(d)
		case "clientSecret":
			if d.Next() == jx.Null {
				return d.Null()
			}
			res.ClientSecret, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode sale response")
	}
	return &res, nil
}

// RecordSale posts the sale to the sale-recording service. Rejections and
// transport failures are returned as *sale.SubmissionError carrying the
// server reason when one was given.
func (c *Client) RecordSale(ctx context.Context, req sale.RecordRequest) (*sale.RecordResult, error) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeRecordRequest(e, req)

	data, err := c.do(ctx, http.MethodPost, "/sales", nil, e.Bytes())
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return nil, &sale.SubmissionError{Reason: statusErr.Message, Err: err}
		}
		return nil, &sale.SubmissionError{Err: err}
	}
	res, err := decodeRecordResult(data)
	if err != nil {
		return nil, &sale.SubmissionError{Err: err}
	}
	return res, nil
}
