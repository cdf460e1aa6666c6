package postgres

import (
	"math"
	"math/big"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"heimdall/internal/model"
)

func wantNumeric(t *testing.T, got any, want uint64) {
	t.Helper()
	n, ok := got.(pgtype.Numeric)
	if !ok {
		t.Fatalf("expected pgtype.Numeric, got %T", got)
	}
	if !n.Valid || n.Exp != 0 || n.Int.Cmp(new(big.Int).SetUint64(want)) != 0 {
		t.Fatalf("numeric: got %+v want %d", n, want)
	}
}

func TestLargeUnsignedValuesKeepTheirValue(t *testing.T) {
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	top := uint64(math.MaxUint64)

	acc := accountArgs(model.AccountRow{
		Slot:         top,
		Lamports:     top,
		RentEpoch:    top,
		DataLen:      top,
		WriteVersion: top,
		CreatedAt:    created,
	})
	for _, i := range []int{0, 2, 5, 6, 7} {
		wantNumeric(t, acc[i], top)
	}

	slot := slotArgs(model.SlotRow{Slot: top, Parent: top - 1, CreatedAt: created})
	wantNumeric(t, slot[0], top)
	wantNumeric(t, slot[1], top-1)

	tx := transactionArgs(model.TransactionRow{
		Slot:                 top,
		Index:                top,
		Fee:                  top,
		ComputeUnitsConsumed: &top,
		NumInstructions:      math.MaxUint32,
		CreatedAt:            created,
	})
	for _, i := range []int{1, 2, 5, 6} {
		wantNumeric(t, tx[i], top)
	}
	if tx[7] != int64(math.MaxUint32) {
		t.Fatalf("num_instructions: %v", tx[7])
	}
}

func TestMissingComputeUnitsIsNull(t *testing.T) {
	tx := transactionArgs(model.TransactionRow{})
	n, ok := tx[6].(pgtype.Numeric)
	if !ok || n.Valid {
		t.Fatalf("expected NULL numeric, got %+v", tx[6])
	}
}

func TestSchemaHasNoSignedSlotColumns(t *testing.T) {
	bigint := regexp.MustCompile(`(?m)^\s*(\w+) BIGINT`)
	for _, stmt := range schema {
		for _, m := range bigint.FindAllStringSubmatch(stmt, -1) {
			switch m[1] {
			case "num_instructions", "num_accounts":
			default:
				t.Fatalf("column %s is BIGINT in:\n%s", m[1], strings.TrimSpace(stmt))
			}
		}
	}
}
