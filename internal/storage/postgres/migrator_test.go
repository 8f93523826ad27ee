package postgres

import (
	"regexp"
	"strconv"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
)

// ('D', 'TOP', 10100)
var seedRow = regexp.MustCompile(`\('([A-I])', '([A-Z]+)', (\d+)\)`)

func TestReadSchemaChanges_EmbeddedCatalogMigrations(t *testing.T) {
	t.Parallel()

	changes, err := readSchemaChanges(schemaChangesFS)
	if err != nil {
		t.Fatalf("read embedded schema changes: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 schema versions, got %d", len(changes))
	}
	if changes[0].String() != "001_init_catalog" || changes[1].String() != "002_seed_catalog" {
		t.Fatalf("unexpected versions: %s, %s", changes[0], changes[1])
	}

	for _, table := range []string{"brands", "products", "outbox_messages", "idempotency_keys"} {
		if !strings.Contains(changes[0].Up, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Fatalf("init_catalog must create %s", table)
		}
		if !strings.Contains(changes[0].Down, "DROP TABLE IF EXISTS "+table) {
			t.Fatalf("init_catalog rollback must drop %s", table)
		}
	}
	for _, category := range domain.Categories() {
		if !strings.Contains(changes[0].Up, "'"+string(category)+"'") {
			t.Fatalf("products.category check must allow %s", category)
		}
	}
}

func TestReadSchemaChanges_SeedCoversEveryCategoryForNineBrands(t *testing.T) {
	t.Parallel()

	changes, err := readSchemaChanges(schemaChangesFS)
	if err != nil {
		t.Fatalf("read embedded schema changes: %v", err)
	}
	seed := changes[1]

	rows := seedRow.FindAllStringSubmatch(seed.Up, -1)
	if len(rows) != 72 {
		t.Fatalf("expected 72 seeded products, got %d", len(rows))
	}

	byBrand := make(map[string]map[domain.Category]int64)
	for _, row := range rows {
		category, err := domain.ParseCategory(row[2])
		if err != nil {
			t.Fatalf("seed row %s: %v", row[0], err)
		}
		price, err := strconv.ParseInt(row[3], 10, 64)
		if err != nil {
			t.Fatalf("seed row %s: %v", row[0], err)
		}
		if byBrand[row[1]] == nil {
			byBrand[row[1]] = make(map[domain.Category]int64)
		}
		if _, dup := byBrand[row[1]][category]; dup {
			t.Fatalf("brand %s seeds %s twice", row[1], category)
		}
		byBrand[row[1]][category] = price
	}
	if len(byBrand) != 9 {
		t.Fatalf("expected 9 seeded brands, got %d", len(byBrand))
	}

	cheapest, cheapestTotal := "", int64(-1)
	for brand, prices := range byBrand {
		var total int64
		for _, category := range domain.Categories() {
			price, ok := prices[category]
			if !ok {
				t.Fatalf("brand %s has no %s product", brand, category)
			}
			total += price
		}
		if cheapestTotal < 0 || total < cheapestTotal {
			cheapest, cheapestTotal = brand, total
		}
	}
	if cheapest != "D" || cheapestTotal != 36100 {
		t.Fatalf("expected D to be cheapest at 36100, got %s at %d", cheapest, cheapestTotal)
	}

	if !strings.Contains(seed.Down, "DELETE FROM brands") {
		t.Fatal("seed rollback must remove seeded brands")
	}
}

func catalogChangesFS(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, body := range files {
		fsys[schemaChangesDir+"/"+name] = &fstest.MapFile{Data: []byte(body)}
	}
	return fsys
}

func TestReadSchemaChanges_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		files   map[string]string
		wantErr string
	}{
		{
			name:    "empty directory",
			files:   map[string]string{},
			wantErr: "no schema changes",
		},
		{
			name: "missing rollback",
			files: map[string]string{
				"001_init_catalog.up.sql": "CREATE TABLE brands (id BIGINT);",
			},
			wantErr: "both up and down",
		},
		{
			name: "unexpected file name",
			files: map[string]string{
				"001_Init_Catalog.up.sql":   "CREATE TABLE brands (id BIGINT);",
				"001_Init_Catalog.down.sql": "DROP TABLE brands;",
			},
			wantErr: "unexpected file",
		},
		{
			name: "blank script",
			files: map[string]string{
				"001_init_catalog.up.sql":   "  \n",
				"001_init_catalog.down.sql": "DROP TABLE brands;",
			},
			wantErr: "is empty",
		},
		{
			name: "version gap",
			files: map[string]string{
				"001_init_catalog.up.sql":   "CREATE TABLE brands (id BIGINT);",
				"001_init_catalog.down.sql": "DROP TABLE brands;",
				"003_seed_catalog.up.sql":   "INSERT INTO brands VALUES (1);",
				"003_seed_catalog.down.sql": "DELETE FROM brands;",
			},
			wantErr: "sequential from 1",
		},
		{
			name: "one version two names",
			files: map[string]string{
				"001_init_catalog.up.sql":  "CREATE TABLE brands (id BIGINT);",
				"001_init_brands.down.sql": "DROP TABLE brands;",
			},
			wantErr: "named both",
		},
		{
			name: "duplicate script",
			files: map[string]string{
				"001_init_catalog.up.sql":   "CREATE TABLE brands (id BIGINT);",
				"1_init_catalog.up.sql":     "CREATE TABLE products (id BIGINT);",
				"001_init_catalog.down.sql": "DROP TABLE brands;",
			},
			wantErr: "two up scripts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := readSchemaChanges(catalogChangesFS(tt.files))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestPlanSchemaChanges(t *testing.T) {
	t.Parallel()

	changes := []schemaChange{
		{Version: 1, Name: "init_catalog", Up: "up1", Down: "down1"},
		{Version: 2, Name: "seed_catalog", Up: "up2", Down: "down2"},
	}
	versions := func(plan []schemaChange) []int64 {
		out := make([]int64, 0, len(plan))
		for _, change := range plan {
			out = append(out, change.Version)
		}
		return out
	}

	tests := []struct {
		name      string
		applied   map[int64]bool
		direction schemaDirection
		steps     int
		want      []int64
	}{
		{name: "fresh database applies all", applied: map[int64]bool{}, direction: schemaUp, want: []int64{1, 2}},
		{name: "up one step applies schema only", applied: map[int64]bool{}, direction: schemaUp, steps: 1, want: []int64{1}},
		{name: "seed pending after schema", applied: map[int64]bool{1: true}, direction: schemaUp, want: []int64{2}},
		{name: "up to date", applied: map[int64]bool{1: true, 2: true}, direction: schemaUp, want: []int64{}},
		{name: "down rolls back seed first", applied: map[int64]bool{1: true, 2: true}, direction: schemaDown, steps: 1, want: []int64{2}},
		{name: "down all in reverse", applied: map[int64]bool{1: true, 2: true}, direction: schemaDown, want: []int64{2, 1}},
		{name: "down on empty database", applied: map[int64]bool{}, direction: schemaDown, steps: 1, want: []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			plan, err := planSchemaChanges(changes, tt.applied, tt.direction, tt.steps)
			if err != nil {
				t.Fatalf("plan: %v", err)
			}
			got := versions(plan)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestPlanSchemaChanges_DownRefusesUnknownAppliedVersion(t *testing.T) {
	t.Parallel()

	changes := []schemaChange{{Version: 1, Name: "init_catalog", Up: "up", Down: "down"}}
	_, err := planSchemaChanges(changes, map[int64]bool{1: true, 7: true}, schemaDown, 1)
	if err == nil || !strings.Contains(err.Error(), "version 7") {
		t.Fatalf("expected error about version 7, got %v", err)
	}
}

func TestSchemaChange_ScriptAndDirection(t *testing.T) {
	t.Parallel()

	change := schemaChange{Version: 2, Name: "seed_catalog", Up: "INSERT", Down: "DELETE"}
	if change.script(schemaUp) != "INSERT" || change.script(schemaDown) != "DELETE" {
		t.Fatalf("unexpected scripts for %s", change)
	}
	if schemaUp.String() != "up" || schemaDown.String() != "down" || schemaDirection(99).String() != "direction(99)" {
		t.Fatalf("unexpected direction names: %s %s %s", schemaUp, schemaDown, schemaDirection(99))
	}
}
