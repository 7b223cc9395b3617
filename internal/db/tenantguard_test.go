package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newGuardedDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "guard.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := Setup(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func seedTwoTenantLeads(t *testing.T, gdb *gorm.DB) (tenantA, tenantB string) {
	t.Helper()
	tenantA, tenantB = NewID(), NewID()
	now := time.Now().UTC()
	for _, tenant := range []string{tenantA, tenantB} {
		if err := gdb.Create(&Tenant{ID: tenant, Name: "t-" + tenant[:8], Active: true}).Error; err != nil {
			t.Fatalf("seed tenant: %v", err)
		}
		lead := Lead{
			ID:             NewID(),
			TenantID:       tenant,
			SourceKey:      "referral",
			GeoKey:         "43215",
			IntentType:     "seller",
			Tier:           "A",
			LastActivityAt: now,
		}
		if err := gdb.Create(&lead).Error; err != nil {
			t.Fatalf("seed lead: %v", err)
		}
	}
	return tenantA, tenantB
}

func TestTenantGuardScopesQueries(t *testing.T) {
	gdb := newGuardedDB(t)
	tenantA, tenantB := seedTwoTenantLeads(t, gdb)

	var leads []Lead
	ctx := WithTenant(context.Background(), tenantA)
	if err := gdb.WithContext(ctx).Find(&leads).Error; err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(leads) != 1 {
		t.Fatalf("want 1 lead for tenant A, got %d", len(leads))
	}
	if leads[0].TenantID != tenantA {
		t.Fatalf("leaked lead from tenant %s", leads[0].TenantID)
	}

	// The other tenant's rows are invisible even when addressed by id.
	var other Lead
	err := gdb.WithContext(ctx).Where("tier = ?", "A").Where("tenant_id = ?", tenantB).First(&other).Error
	if err != nil {
		// Explicit tenant filters win over the guard; tenant B's lead is found.
		t.Fatalf("explicit tenant filter: %v", err)
	}
	if other.TenantID != tenantB {
		t.Fatalf("explicit filter returned tenant %s", other.TenantID)
	}
}

func TestTenantGuardScopesUpdatesAndDeletes(t *testing.T) {
	gdb := newGuardedDB(t)
	tenantA, tenantB := seedTwoTenantLeads(t, gdb)

	ctx := WithTenant(context.Background(), tenantA)
	res := gdb.WithContext(ctx).Model(&Lead{}).Where("tier = ?", "A").Update("tier", "B")
	if res.Error != nil {
		t.Fatalf("update: %v", res.Error)
	}
	if res.RowsAffected != 1 {
		t.Fatalf("update touched %d rows, want 1", res.RowsAffected)
	}

	var untouched Lead
	if err := gdb.Where("tenant_id = ?", tenantB).First(&untouched).Error; err != nil {
		t.Fatalf("load tenant B lead: %v", err)
	}
	if untouched.Tier != "A" {
		t.Fatalf("guard let an update cross tenants")
	}

	res = gdb.WithContext(ctx).Where("tier = ?", "B").Delete(&Lead{})
	if res.Error != nil {
		t.Fatalf("delete: %v", res.Error)
	}
	if res.RowsAffected != 1 {
		t.Fatalf("delete touched %d rows, want 1", res.RowsAffected)
	}

	var remaining int64
	if err := gdb.Model(&Lead{}).Count(&remaining).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("want tenant B's lead to survive, have %d rows", remaining)
	}
}

func TestWithoutTenantScopeSeesEverything(t *testing.T) {
	gdb := newGuardedDB(t)
	tenantA, _ := seedTwoTenantLeads(t, gdb)

	// Job-style context: tenant set but explicitly exempted.
	ctx := WithoutTenantScope(WithTenant(context.Background(), tenantA))
	var leads []Lead
	if err := gdb.WithContext(ctx).Find(&leads).Error; err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(leads) != 2 {
		t.Fatalf("unscoped context should see both tenants, got %d", len(leads))
	}
}

func TestTenantGuardIgnoresTenantlessModels(t *testing.T) {
	gdb := newGuardedDB(t)
	tenantA, _ := seedTwoTenantLeads(t, gdb)

	// Tenant itself has no tenant_id column; the guard stays out of the way.
	ctx := WithTenant(context.Background(), tenantA)
	var tenants []Tenant
	if err := gdb.WithContext(ctx).Find(&tenants).Error; err != nil {
		t.Fatalf("find tenants: %v", err)
	}
	if len(tenants) != 2 {
		t.Fatalf("want 2 tenants, got %d", len(tenants))
	}
}
