package invoiceRepo

import (
	"context"
	"time"

	"haggle/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

// Create inserts a new invoice and returns its ID.
func (r *mongoInvoiceRepo) Create(ctx context.Context, invoice models.Invoice) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if invoice.InvoiceID == "" {
		invoice.InvoiceID = uuid.New().String()
	}
	invoice.CreatedAt = time.Now()

	if _, err := r.coll.InsertOne(ctx, invoice); err != nil {
		return "", err
	}
	return invoice.InvoiceID, nil
}

// GetBySessionID fetches all invoices recorded for a negotiation session.
func (r *mongoInvoiceRepo) GetBySessionID(ctx context.Context, sessionID string) ([]models.Invoice, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cursor, err := r.coll.Find(ctx, bson.M{"sessionId": sessionID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var invoices []models.Invoice
	if err := cursor.All(ctx, &invoices); err != nil {
		return nil, err
	}
	return invoices, nil
}
