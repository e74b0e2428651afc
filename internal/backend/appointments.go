package backend

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/vetclinic-pos/internal/domain/appointment"
)

var _ appointment.Reader = (*Client)(nil)

// List returns the appointments starting in [start, end).
func (c *Client) List(ctx context.Context, start, end time.Time) ([]appointment.Appointment, error) {
	q := url.Values{}
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))

	data, err := c.do(ctx, http.MethodGet, "/appointments", q, nil)
	if err != nil {
		return nil, err
	}

	var out []appointment.Appointment
	d := jx.DecodeBytes(data)
	if err := d.Arr(func(d *jx.Decoder) error {
		a, err := decodeAppointment(d)
		if err != nil {
			return err
		}
		out = append(out, a)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode appointments")
	}
	return out, nil
}

// Get returns one appointment.
func (c *Client) Get(ctx context.Context, id string) (*appointment.Appointment, error) {
	data, err := c.do(ctx, http.MethodGet, "/appointments/"+url.PathEscape(id), nil, nil)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
			return nil, appointment.ErrNotFound
		}
		return nil, err
	}

	a, err := decodeAppointment(jx.DecodeBytes(data))
	if err != nil {
		return nil, errors.Wrap(err, "decode appointment")
	}
	return &a, nil
}

func decodeAppointment(d *jx.Decoder) (appointment.Appointment, error) {
	var a appointment.Appointment
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			a.ID, err = decodeID(d)
		case "clientId":
			a.ClientID, err = decodeID(d)
		case "professionalId":
			a.ProfessionalID, err = decodeID(d)
		case "petName":
			a.PetName, err = decodeOptStr(d)
		case "serviceName":
			a.ServiceName, err = decodeOptStr(d)
		case "price", "servicePrice":
			a.Price, err = decodeDecimal(d)
		case "startsAt", "start":
			a.StartsAt, err = decodeTime(d)
		case "endsAt", "end":
			a.EndsAt, err = decodeTime(d)
		case "status":
			var s string
			s, err = decodeOptStr(d)
			a.Status = appointment.Status(s)
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	return a, err
}

func decodeOptStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	default:
		return decimal.Zero, errors.Errorf("unexpected amount type %s", d.Next())
	}
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := decodeOptStr(d)
	if err != nil || s == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, s)
}
