package invoiceRepo

import (
	"context"
	"sync"
	"time"

	"haggle/models"

	"github.com/google/uuid"
)

type memoryInvoiceRepo struct {
	mu       sync.RWMutex
	invoices []models.Invoice
}

// NewMemoryInvoiceRepo returns an in-memory InvoiceRepository for tests and
// local runs.
func NewMemoryInvoiceRepo() InvoiceRepository {
	return &memoryInvoiceRepo{}
}

func (r *memoryInvoiceRepo) Create(ctx context.Context, invoice models.Invoice) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if invoice.InvoiceID == "" {
		invoice.InvoiceID = uuid.New().String()
	}
	invoice.CreatedAt = time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoices = append(r.invoices, invoice)
	return invoice.InvoiceID, nil
}

func (r *memoryInvoiceRepo) GetBySessionID(ctx context.Context, sessionID string) ([]models.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Invoice
	for _, inv := range r.invoices {
		if inv.SessionID == sessionID {
			out = append(out, inv)
		}
	}
	return out, nil
}
