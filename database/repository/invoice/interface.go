package invoiceRepo

import (
	"context"

	"haggle/database"
	"haggle/models"

	"go.mongodb.org/mongo-driver/mongo"
)

type InvoiceRepository interface {
	Create(ctx context.Context, invoice models.Invoice) (string, error)
	GetBySessionID(ctx context.Context, sessionID string) ([]models.Invoice, error)
}

type mongoInvoiceRepo struct {
	coll *mongo.Collection
}

// NewMongoInvoiceRepo returns a new InvoiceRepository instance using MongoDB.
func NewMongoInvoiceRepo() InvoiceRepository {
	db := database.MongoClient.Database("haggle")
	return &mongoInvoiceRepo{
		coll: db.Collection("invoices"),
	}
}
