// Package response turns orchestration outcomes into the stable
// {success, status, message} triple every provider protocol carries.
package response

import (
	"net/http"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/shopspring/decimal"
)

// Description is the wire status and message for an outcome.
type Description struct {
	Status  int
	Message string
}

var descriptions = map[domain.ErrorKind]Description{
	domain.KindMalformedRequest:    {http.StatusBadRequest, "Malformed request"},
	domain.KindInvalidSecureToken:  {http.StatusUnauthorized, "Invalid secure token"},
	domain.KindIncorrectIdentifier: {http.StatusForbidden, "Incorrect identifier"},
	domain.KindInsufficientFunds:   {http.StatusPaymentRequired, "Insufficient funds"},
	domain.KindGameCycleNotExist:   {http.StatusNotFound, "Game cycle does not exist"},
	domain.KindTransactionNotExist: {http.StatusNotFound, "Transaction does not exist"},
	domain.KindGameCycleExist:      {http.StatusConflict, "Game cycle already exists"},
	domain.KindTransactionExist:    {http.StatusConflict, "Transaction already exists"},
	domain.KindGameCycleClosed:     {http.StatusGone, "Game cycle closed"},
	domain.KindServiceUnavailable:  {http.StatusServiceUnavailable, "Request processing service unavailable"},
	domain.KindInternalError:       {http.StatusInternalServerError, "Internal error"},
}

// Describe maps an error kind to its wire description. The empty kind is success.
func Describe(kind domain.ErrorKind) Description {
	if kind == "" {
		return Description{Status: http.StatusOK, Message: "OK"}
	}
	if d, ok := descriptions[kind]; ok {
		return d
	}
	return descriptions[domain.KindInternalError]
}

// Result is the provider-neutral outcome of one callback.
type Result struct {
	Kind          domain.ErrorKind
	Balance       decimal.Decimal
	HasBalance    bool
	Currency      string
	Token         string
	TransactionID string
}

// Success reports whether the result carries no error kind.
func (r *Result) Success() bool { return r.Kind == "" }

// Describe returns the wire description of the result.
func (r *Result) Describe() Description { return Describe(r.Kind) }

// FormattedBalance renders the balance rounded to two places, or "" when absent.
func (r *Result) FormattedBalance() string {
	if !r.HasBalance {
		return ""
	}
	return domain.FormatMoney(domain.RoundMoney(r.Balance))
}

// Failed builds a failure result for err.
func Failed(err error, txID string) *Result {
	return &Result{Kind: domain.KindOf(err), TransactionID: txID}
}

// Envelope is the JSON body shared by both provider families.
type Envelope struct {
	Success bool   `json:"success"`
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    *Data  `json:"data,omitempty"`
}

// Data carries the protocol-specific payload fields.
type Data struct {
	Balance       string `json:"balance,omitempty"`
	Currency      string `json:"currency,omitempty"`
	Token         string `json:"token,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	Timestamp     int64  `json:"timestamp,omitempty"`
	Fingerprint   string `json:"fingerprint,omitempty"`
}

// NewEnvelope fills the status triple and the common data fields from r.
func NewEnvelope(r *Result) *Envelope {
	d := r.Describe()
	env := &Envelope{Success: r.Success(), Status: d.Status, Message: d.Message}
	if r.HasBalance || r.Token != "" || r.TransactionID != "" {
		env.Data = &Data{
			Balance:       r.FormattedBalance(),
			Currency:      r.Currency,
			Token:         r.Token,
			TransactionID: r.TransactionID,
		}
	}
	return env
}
