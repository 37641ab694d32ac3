package settings

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/router-for-me/AIGateway/internal/db"
)

func resetSnapshot(t *testing.T) {
	t.Helper()
	StoreDBConfig(time.Time{}, nil)
	t.Cleanup(func() { StoreDBConfig(time.Time{}, nil) })
}

func TestTypedAccessors(t *testing.T) {
	resetSnapshot(t)
	StoreDBConfig(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), map[string]json.RawMessage{
		"INT":         json.RawMessage(`14`),
		"INT_STRING":  json.RawMessage(`"30"`),
		"INT_WRAPPED": json.RawMessage(`{"value": 5}`),
		"FRACTION":    json.RawMessage(`2.5`),
		"FLOAT":       json.RawMessage(`0.45`),
		"BOOL":        json.RawMessage(`false`),
		"BOOL_STRING": json.RawMessage(`"true"`),
		"GARBAGE":     json.RawMessage(`[1,2]`),
		"  PADDED  ":  json.RawMessage(`1`),
		"":            json.RawMessage(`1`),
	})

	if got := IntValue("INT", 7); got != 14 {
		t.Fatalf("IntValue(INT) = %d", got)
	}
	if got := IntValue("INT_STRING", 7); got != 30 {
		t.Fatalf("IntValue(INT_STRING) = %d", got)
	}
	if got := IntValue("INT_WRAPPED", 7); got != 5 {
		t.Fatalf("IntValue(INT_WRAPPED) = %d", got)
	}
	if got := IntValue("FRACTION", 7); got != 7 {
		t.Fatalf("IntValue(FRACTION) = %d, want fallback", got)
	}
	if got := IntValue("MISSING", 7); got != 7 {
		t.Fatalf("IntValue(MISSING) = %d, want fallback", got)
	}
	if got := FloatValue("FLOAT", 0.3); got != 0.45 {
		t.Fatalf("FloatValue(FLOAT) = %v", got)
	}
	if got := FloatValue("GARBAGE", 0.3); got != 0.3 {
		t.Fatalf("FloatValue(GARBAGE) = %v, want fallback", got)
	}
	if got := BoolValue("BOOL", true); got {
		t.Fatalf("BoolValue(BOOL) = true")
	}
	if got := BoolValue("BOOL_STRING", false); !got {
		t.Fatalf("BoolValue(BOOL_STRING) = false")
	}
	if got := BoolValue("GARBAGE", true); !got {
		t.Fatalf("BoolValue(GARBAGE) should fall back")
	}
	if _, ok := DBConfigValue("PADDED"); !ok {
		t.Fatalf("keys should be trimmed")
	}
	if !DBConfigUpdatedAt().Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("DBConfigUpdatedAt = %v", DBConfigUpdatedAt())
	}
}

func TestDBConfigValueReturnsCopy(t *testing.T) {
	resetSnapshot(t)
	StoreDBConfig(time.Now(), map[string]json.RawMessage{"KEY": json.RawMessage(`123`)})

	raw, _ := DBConfigValue("KEY")
	raw[0] = '9'
	if got := IntValue("KEY", 0); got != 123 {
		t.Fatalf("snapshot mutated through returned value: %d", got)
	}
}

func TestPutAndRefresh(t *testing.T) {
	resetSnapshot(t)
	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	ctx := context.Background()

	if errPut := Put(ctx, conn, FailureLogRetentionDaysKey, 14); errPut != nil {
		t.Fatalf("Put: %v", errPut)
	}
	if got := IntValue(FailureLogRetentionDaysKey, DefaultFailureLogRetentionDays); got != 14 {
		t.Fatalf("retention = %d, want 14", got)
	}

	if errPut := Put(ctx, conn, FailureLogRetentionDaysKey, 3); errPut != nil {
		t.Fatalf("Put overwrite: %v", errPut)
	}
	if got := IntValue(FailureLogRetentionDaysKey, DefaultFailureLogRetentionDays); got != 3 {
		t.Fatalf("retention after overwrite = %d, want 3", got)
	}

	if errPut := Put(ctx, conn, LowConfidenceThresholdKey, 0.4); errPut != nil {
		t.Fatalf("Put float: %v", errPut)
	}

	StoreDBConfig(time.Time{}, nil)
	if errRefresh := RefreshDBConfigSnapshot(ctx, conn); errRefresh != nil {
		t.Fatalf("RefreshDBConfigSnapshot: %v", errRefresh)
	}
	if got := IntValue(FailureLogRetentionDaysKey, DefaultFailureLogRetentionDays); got != 3 {
		t.Fatalf("retention after refresh = %d, want 3", got)
	}
	if got := FloatValue(LowConfidenceThresholdKey, DefaultLowConfidenceThreshold); got != 0.4 {
		t.Fatalf("threshold after refresh = %v, want 0.4", got)
	}

	if errPut := Put(ctx, conn, "  ", 1); errPut == nil {
		t.Fatalf("expected error for empty key")
	}
	if errRefresh := RefreshDBConfigSnapshot(ctx, nil); errRefresh == nil {
		t.Fatalf("expected error for nil db")
	}
}
