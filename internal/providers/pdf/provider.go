package pdf

import (
	"context"
	"io"
)

// ReceiptData is everything a payment receipt renders.
type ReceiptData struct {
	ReceiptNumber string
	OrderID       string
	PaymentID     string
	CourseTitle   string
	LearnerName   string
	LearnerEmail  string
	Amount        int64
	Currency      string
	DatePaid      string
	VerifiedBy    string
}

type Provider interface {
	GenerateReceipt(ctx context.Context, data ReceiptData) (io.Reader, error)
}
