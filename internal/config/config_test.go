package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ticketgate/internal/domain"
	"ticketgate/internal/quota"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	rs, err := cfg.RateSheet(SheetEvents)
	if err != nil {
		t.Fatal(err)
	}
	if rs.CommissionRate != 10 || rs.ProcessingFeeRate != 2.9 || rs.MaxEventsPerActorPerMonth != 5 {
		t.Fatalf("unexpected events sheet: %+v", rs)
	}
	if cfg.Server.BasePath != "/v0" {
		t.Fatalf("base path = %q", cfg.Server.BasePath)
	}
}

func TestQuotaDefinitionInheritsTimezone(t *testing.T) {
	cfg := Default()
	def, err := cfg.Quota("downloads")
	if err != nil {
		t.Fatal(err)
	}
	if def.Window != quota.WindowDay || def.Limit != 20 || def.Scope != quota.ScopeActor {
		t.Fatalf("unexpected definition: %+v", def)
	}
	if def.Location == nil || def.Location.String() != "Africa/Nairobi" {
		t.Fatalf("location = %v", def.Location)
	}
	if _, err := cfg.Quota("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFromYAMLOverridesAndValidates(t *testing.T) {
	cfg, err := FromYAML([]byte("timezone: UTC\nserver:\n  addr: \":9090\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	loc, _ := cfg.Location()
	if loc != time.UTC {
		t.Fatalf("location = %v", loc)
	}
	if _, ok := cfg.RateSheets[SheetEvents]; !ok {
		t.Fatalf("default rate sheets lost")
	}

	cases := map[string]string{
		"bad rate":     "rate_sheets:\n  events:\n    commission_rate: 120\n    currency: KES\n    max_price: 10\n",
		"bad driver":   "storage:\n  driver: mongo\n",
		"pg no dsn":    "storage:\n  driver: postgres\n",
		"bad tz":       "timezone: Mars/Olympus\n",
		"bad window":   "quotas:\n  x:\n    window: fortnight\n    limit: 1\n",
		"bad basepath": "server:\n  base_path: v0\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := FromYAML([]byte(doc)); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "tg config init") {
		t.Fatalf("expected hint for missing config, got %v", err)
	}
	cfg, err := LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("optional load: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err != nil {
		t.Fatalf("load generated default: %v", err)
	}
}

func TestPromotionRedeemIsOneCombinedCap(t *testing.T) {
	cfg := Default()
	def, err := cfg.Quota("promotion.redeem")
	if err != nil {
		t.Fatal(err)
	}
	if def.Window != quota.WindowGlobalAndActor || def.Limit != 100 || def.PerActorLimit != 1 {
		t.Fatalf("unexpected definition: %+v", def)
	}
	if _, err := cfg.Quota("promotion.stock"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("separate stock quota should be gone, got %v", err)
	}
}

func TestFromYAMLReplacesMapSections(t *testing.T) {
	doc := "quotas:\n  poll.vote:\n    window: once\n    limit: 1\n    scope: actor_resource\n"
	cfg, err := FromYAML([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Quotas) != 1 {
		t.Fatalf("quotas = %v", cfg.Quotas)
	}
	if _, err := cfg.Quota("downloads"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("default quota should not be merged in, got %v", err)
	}
	if _, ok := cfg.RateSheets["store"]; !ok {
		t.Fatalf("rate sheets not in the file keep their defaults")
	}

	cfg, err = FromYAML([]byte("rate_sheets:\n  events:\n    commission_rate: 5\n    currency: UGX\n    max_price: 1000000\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.RateSheets) != 1 || cfg.RateSheets[SheetEvents].Currency != "UGX" {
		t.Fatalf("rate sheets = %+v", cfg.RateSheets)
	}
}
