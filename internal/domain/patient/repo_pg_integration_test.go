//go:build integration

package patient

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smmrizwan/hemodialysis-sub001/internal/platform/db/dbtest"
	"github.com/smmrizwan/hemodialysis-sub001/pkg/civil"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()
	pool, cleanup, err := dbtest.Start(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres: %v\n", err)
		os.Exit(1)
	}
	testPool = pool
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func TestRepoPG_CRUD(t *testing.T) {
	ctx := context.Background()
	if err := dbtest.Reset(ctx, testPool); err != nil {
		t.Fatalf("reset: %v", err)
	}
	repo := NewRepo(testPool)

	height := 172.5
	p := &Patient{
		MRN:               "HD-INT-001",
		FullName:          "Omar Haddad",
		BirthDate:         civil.New(1958, time.February, 3),
		Gender:            "male",
		HeightCm:          &height,
		DialysisStartDate: civil.New(2019, time.August, 20),
	}
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.BirthDate.String() != "1958-02-03" || got.DialysisStartDate.String() != "2019-08-20" {
		t.Errorf("dates = %s / %s", got.BirthDate, got.DialysisStartDate)
	}
	if got.HeightCm == nil || *got.HeightCm != height || got.WeightKg != nil {
		t.Errorf("vitals = %v / %v", got.HeightCm, got.WeightKg)
	}

	byMRN, err := repo.GetByMRN(ctx, "HD-INT-001")
	if err != nil || byMRN.ID != p.ID {
		t.Fatalf("get by mrn: %v", err)
	}

	got.FullName = "Omar K. Haddad"
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}

	list, total, err := repo.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || list[0].FullName != "Omar K. Haddad" {
		t.Errorf("list = %d %v", total, list)
	}

	if err := repo.Delete(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.GetByID(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}
