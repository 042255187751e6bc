package bigquery

import (
	"testing"
	"time"

	"github.com/dvloznov/p2ptransfers/internal/domain"
)

func TestNewArchiveRow(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	archived := created.Add(24 * time.Hour)
	src := "acc-1"

	tests := []struct {
		name      string
		tx        *domain.Transaction
		wantValid bool
	}{
		{
			name: "transfer keeps source",
			tx: &domain.Transaction{
				ID: "t1", SourceAccountID: &src, RecipientAccountID: "acc-2", Amount: 3000,
				Type: domain.TransactionTypeTransfer, Status: domain.TransactionStatusCompleted,
				CreatedAt: created, UpdatedAt: created,
			},
			wantValid: true,
		},
		{
			name: "deposit has null source",
			tx: &domain.Transaction{
				ID: "t2", RecipientAccountID: "acc-2", Amount: 100,
				Type: domain.TransactionTypeInitialDeposit, Status: domain.TransactionStatusCompleted,
				CreatedAt: created, UpdatedAt: created,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := NewArchiveRow(tt.tx, archived)

			if row.TransactionID != tt.tx.ID {
				t.Errorf("TransactionID = %q, want %q", row.TransactionID, tt.tx.ID)
			}
			if row.SourceAccountID.Valid != tt.wantValid {
				t.Errorf("SourceAccountID.Valid = %v, want %v", row.SourceAccountID.Valid, tt.wantValid)
			}
			if tt.wantValid && row.SourceAccountID.StringVal != src {
				t.Errorf("SourceAccountID = %q, want %q", row.SourceAccountID.StringVal, src)
			}
			if row.Amount != tt.tx.Amount || row.Status != string(tt.tx.Status) || row.Type != string(tt.tx.Type) {
				t.Errorf("unexpected row %+v", row)
			}
			if !row.ArchivedTS.Equal(archived) {
				t.Errorf("ArchivedTS = %v, want %v", row.ArchivedTS, archived)
			}
		})
	}
}
