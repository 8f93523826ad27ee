// Package pricing содержит чистые функции агрегирования цен каталога.
// Функции работают над снимком строк PriceRow и не обращаются к хранилищу.
package pricing

import (
	"sort"

	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
)

// Direction задаёт, какой экстремум цены ищется.
type Direction int

const (
	// Lowest — минимальная цена.
	Lowest Direction = iota
	// Highest — максимальная цена.
	Highest
)

func (d Direction) String() string {
	if d == Highest {
		return "highest"
	}
	return "lowest"
}

// better сообщает, лучше ли цена a цены b в заданном направлении.
func (d Direction) better(a, b int64) bool {
	if d == Highest {
		return a > b
	}
	return a < b
}

// Extremum возвращает все бренды, цена которых в категории равна минимуму
// (или максимуму). Бренд попадает в результат один раз, даже если у него
// несколько товаров с этой ценой. Результат упорядочен по id бренда.
// Пустая категория даёт пустой результат.
func Extremum(rows []domain.PriceRow, category domain.Category, direction Direction) []domain.CategoryPrice {
	var (
		found bool
		best  int64
	)
	for _, row := range rows {
		if row.Category != category {
			continue
		}
		if !found || direction.better(row.Price, best) {
			best = row.Price
			found = true
		}
	}
	if !found {
		return []domain.CategoryPrice{}
	}

	seen := make(map[int64]struct{})
	out := make([]domain.CategoryPrice, 0, 1)
	for _, row := range rows {
		if row.Category != category || row.Price != best {
			continue
		}
		if _, ok := seen[row.BrandID]; ok {
			continue
		}
		seen[row.BrandID] = struct{}{}
		out = append(out, domain.CategoryPrice{
			Category:  category,
			BrandID:   row.BrandID,
			BrandName: row.BrandName,
			Price:     row.Price,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].BrandID < out[j].BrandID })
	return out
}

// LowestByAllCategories строит таблицу минимальных цен по всем категориям.
// Для каждой категории с товарами возвращается одна строка; при равенстве
// цен представителем выбирается бренд с меньшим id. Total равен сумме цен
// возвращённых строк.
func LowestByAllCategories(rows []domain.PriceRow) domain.LowestPriceTable {
	table := domain.LowestPriceTable{Rows: make([]domain.CategoryPrice, 0, domain.CategoryCount)}
	for _, category := range domain.Categories() {
		candidates := Extremum(rows, category, Lowest)
		if len(candidates) == 0 {
			continue
		}
		// Extremum отсортирован по brand id, первый элемент и есть детерминированный представитель.
		table.Rows = append(table.Rows, candidates[0])
		table.Total += candidates[0].Price
	}
	return table
}

// FullCoverageTotals считает стоимость полного комплекта для каждого бренда,
// у которого есть хотя бы один товар в каждой категории. Категория входит в
// сумму ценой самого дешёвого товара бренда в ней. Результат упорядочен по сумме, затем по id
// бренда; этот порядок и есть детерминированный tie-break.
func FullCoverageTotals(rows []domain.PriceRow) []domain.BrandTotal {
	type brandAcc struct {
		name     string
		cheapest [domain.CategoryCount]int64
		covered  [domain.CategoryCount]bool
	}

	brands := make(map[int64]*brandAcc)
	for _, row := range rows {
		idx := row.Category.Index()
		if idx < 0 {
			continue
		}
		acc, ok := brands[row.BrandID]
		if !ok {
			acc = &brandAcc{name: row.BrandName}
			brands[row.BrandID] = acc
		}
		if !acc.covered[idx] || row.Price < acc.cheapest[idx] {
			acc.cheapest[idx] = row.Price
			acc.covered[idx] = true
		}
	}

	categories := domain.Categories()
	totals := make([]domain.BrandTotal, 0, len(brands))
	for brandID, acc := range brands {
		if !fullyCovered(acc.covered) {
			continue
		}
		total := domain.BrandTotal{
			BrandID:   brandID,
			BrandName: acc.name,
			Items:     make([]domain.CategoryPrice, 0, domain.CategoryCount),
		}
		for i, category := range categories {
			total.Items = append(total.Items, domain.CategoryPrice{
				Category:  category,
				BrandID:   brandID,
				BrandName: acc.name,
				Price:     acc.cheapest[i],
			})
			total.Total += acc.cheapest[i]
		}
		totals = append(totals, total)
	}

	sort.Slice(totals, func(i, j int) bool {
		if totals[i].Total != totals[j].Total {
			return totals[i].Total < totals[j].Total
		}
		return totals[i].BrandID < totals[j].BrandID
	})
	return totals
}

// CheapestFullCoverageBrand возвращает бренд с минимальной стоимостью полного
// комплекта. Если ни один бренд не покрывает все категории, возвращается
// domain.ErrNoQualifyingBrand.
func CheapestFullCoverageBrand(rows []domain.PriceRow) (domain.BrandTotal, error) {
	totals := FullCoverageTotals(rows)
	if len(totals) == 0 {
		return domain.BrandTotal{}, domain.ErrNoQualifyingBrand
	}
	return totals[0], nil
}

func fullyCovered(covered [domain.CategoryCount]bool) bool {
	for _, ok := range covered {
		if !ok {
			return false
		}
	}
	return true
}
