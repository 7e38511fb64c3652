package mint

import (
	"fmt"
	"net/http"
)

// ErrCode is the closed taxonomy of mint engine errors. Every value
// here maps to exactly one HTTP status.
type ErrCode int

const (
	CodeInvalidAmount ErrCode = iota
	CodeInvalidProof
	CodeTokenAlreadySpent
	CodeKeysetNotFound
	CodeQuoteNotFound
	CodeInvoiceNotPaid
	CodeInvalidQuote
	CodeQuoteAlreadyIssued
	CodeLightningError
	CodeDatabase
	CodeInternal
)

// Status returns the HTTP status code a handler should respond with
// for this error code.
func (c ErrCode) Status() int {
	switch c {
	case CodeQuoteNotFound:
		return http.StatusNotFound
	case CodeLightningError:
		return http.StatusBadGateway
	case CodeDatabase, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// Error is the typed error every engine operation returns. It carries
// a machine-checkable Code alongside a human Detail over a closed set
// of codes so handlers can switch exhaustively instead of guessing at
// a numeric space.
type Error struct {
	Code   ErrCode
	Detail string
}

func (e *Error) Error() string {
	return e.Detail
}

func newErr(code ErrCode, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

func newErrf(code ErrCode, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

var (
	ErrInvalidAmount      = newErr(CodeInvalidAmount, "invalid amount")
	ErrConservation       = newErr(CodeInvalidAmount, "sum of inputs does not match sum of outputs")
	ErrInvalidProof       = newErr(CodeInvalidProof, "invalid proof")
	ErrNoProofsProvided   = newErr(CodeInvalidProof, "no proofs provided")
	ErrDuplicateProofs    = newErr(CodeInvalidProof, "duplicate proofs")
	ErrTokenAlreadySpent  = newErr(CodeTokenAlreadySpent, "token already spent")
	ErrKeysetNotFound     = newErr(CodeKeysetNotFound, "unknown keyset")
	ErrQuoteNotFound      = newErr(CodeQuoteNotFound, "quote not found")
	ErrInvoiceNotPaid     = newErr(CodeInvoiceNotPaid, "invoice has not been paid")
	ErrInvalidQuote       = newErr(CodeInvalidQuote, "invalid quote")
	ErrQuoteAlreadyIssued = newErr(CodeQuoteAlreadyIssued, "quote already issued")
	ErrOutputsExceedQuote = newErr(CodeInvalidQuote, "sum of outputs exceeds quote amount")
	ErrUnitNotSupported   = newErr(CodeInvalidAmount, "unit not supported")
	ErrMethodNotSupported = newErr(CodeInvalidQuote, "payment method not supported")
)

func dbErr(err error) *Error {
	return newErrf(CodeDatabase, "database error: %v", err)
}

func lightningErr(err error) *Error {
	return newErrf(CodeLightningError, "lightning backend error: %v", err)
}

func internalErr(err error) *Error {
	return newErrf(CodeInternal, "internal error: %v", err)
}
