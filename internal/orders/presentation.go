package orders

import (
	"net/url"
	"strconv"
)

// Presenter renders the artifact a customer uses to pay (a QR payload, a
// checkout link).
type Presenter interface {
	Present(o *Order) string
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(o *Order) string

func (f PresenterFunc) Present(o *Order) string { return f(o) }

// LinkPresenter builds "<prefix>?ref=<reference>&amount=<minor units>".
type LinkPresenter struct {
	Prefix string
}

func (p LinkPresenter) Present(o *Order) string {
	return p.Prefix + "?ref=" + url.QueryEscape(o.PaymentReference) +
		"&amount=" + strconv.FormatInt(o.Amount, 10)
}
