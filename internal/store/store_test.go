package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"

	"github.com/dukerupert/fortrock/internal/database"
	"github.com/dukerupert/fortrock/internal/model"
)

func setupTestDB(t *testing.T, provisionPortal bool) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:", database.Options{ProvisionPortal: provisionPortal})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestAccount(t *testing.T, as *AccountStore, email string) *model.Account {
	t.Helper()
	a, err := as.Create(context.Background(), &model.Account{ID: uuid.NewString(), Email: email})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return a
}
