// Package cache хранит read-view каталога и правила их инвалидации после записи.
package cache

import (
	"strconv"

	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
)

// View — именованное представление для чтения.
type View string

const (
	ViewBrands                 View = "brands"
	ViewBrandByID              View = "brand_by_id"
	ViewBrandByName            View = "brand_by_name"
	ViewProducts               View = "products"
	ViewProductByID            View = "product_by_id"
	ViewProductsByBrand        View = "products_by_brand"
	ViewProductByBrandCategory View = "product_by_brand_category"
	ViewLowestByCategory       View = "lowest_by_category"
	ViewHighestByCategory      View = "highest_by_category"
	ViewLowestTotalBrand       View = "lowest_total_brand"
)

// Ключи view, у которых одно значение на весь каталог.
const (
	KeyAll           = "all"
	KeyAllCategories = "ALL"
	KeyCheapestBrand = "cheapest"
	KeyBrandTotals   = "totals"
)

// Views возвращает все view в фиксированном порядке.
func Views() []View {
	return []View{
		ViewBrands,
		ViewBrandByID,
		ViewBrandByName,
		ViewProducts,
		ViewProductByID,
		ViewProductsByBrand,
		ViewProductByBrandCategory,
		ViewLowestByCategory,
		ViewHighestByCategory,
		ViewLowestTotalBrand,
	}
}

// IDKey строит ключ по идентификатору.
func IDKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// BrandCategoryKey строит ключ view product_by_brand_category.
func BrandCategoryKey(brandID int64, category domain.Category) string {
	return IDKey(brandID) + ":" + string(category)
}

// Invalidation описывает сброс одного ключа или всего view (Key == "").
type Invalidation struct {
	View View
	Key  string
}

// Whole сообщает, сбрасывается ли view целиком.
func (i Invalidation) Whole() bool {
	return i.Key == ""
}

func (i Invalidation) String() string {
	if i.Whole() {
		return string(i.View) + "[*]"
	}
	return string(i.View) + "[" + i.Key + "]"
}

// MutationKind — тип изменяющей операции.
type MutationKind int

const (
	MutationCreateBrand MutationKind = iota + 1
	MutationUpdateBrandName
	MutationDeleteBrand
	MutationCreateProduct
	MutationUpdateProductPrice
	MutationUpdateProductPriceByBrandCategory
	MutationDeleteProduct
)

var mutationNames = map[MutationKind]string{
	MutationCreateBrand:                       "create_brand",
	MutationUpdateBrandName:                   "update_brand",
	MutationDeleteBrand:                       "delete_brand",
	MutationCreateProduct:                     "create_product",
	MutationUpdateProductPrice:                "update_product",
	MutationUpdateProductPriceByBrandCategory: "update_product_by_brand_category",
	MutationDeleteProduct:                     "delete_product",
}

func (k MutationKind) String() string {
	if name, ok := mutationNames[k]; ok {
		return name
	}
	return "unknown"
}

// Mutation — зафиксированное изменение, по которому вычисляются инвалидации.
type Mutation struct {
	Kind      MutationKind
	BrandID   int64
	ProductID int64
	Category  domain.Category
}

func whole(view View) Invalidation { return Invalidation{View: view} }

func key(view View, k string) Invalidation { return Invalidation{View: view, Key: k} }

// InvalidationsFor возвращает view, которые нужно сбросить после мутации.
//
// Помимо базовой таблицы:
//   - переименование и удаление бренда сбрасывают view товаров и цен, так как
//     в них хранится имя бренда, а удаление каскадно убирает товары;
//   - обновление цены по бренду и категории сбрасывает product_by_id[id] и
//     сводную таблицу минимальных цен lowest_by_category[ALL].
func InvalidationsFor(m Mutation) []Invalidation {
	switch m.Kind {
	case MutationCreateBrand:
		return []Invalidation{
			whole(ViewBrands),
			whole(ViewLowestTotalBrand),
		}
	case MutationUpdateBrandName:
		return []Invalidation{
			whole(ViewBrands),
			key(ViewBrandByID, IDKey(m.BrandID)),
			whole(ViewBrandByName),
			whole(ViewLowestTotalBrand),
			whole(ViewProducts),
			whole(ViewProductByID),
			key(ViewProductsByBrand, IDKey(m.BrandID)),
			whole(ViewProductByBrandCategory),
			whole(ViewLowestByCategory),
			whole(ViewHighestByCategory),
		}
	case MutationDeleteBrand:
		return []Invalidation{
			whole(ViewBrands),
			key(ViewBrandByID, IDKey(m.BrandID)),
			whole(ViewBrandByName),
			whole(ViewLowestTotalBrand),
			key(ViewProductsByBrand, IDKey(m.BrandID)),
			whole(ViewProducts),
			whole(ViewProductByID),
			whole(ViewProductByBrandCategory),
			whole(ViewLowestByCategory),
			whole(ViewHighestByCategory),
		}
	case MutationCreateProduct:
		return []Invalidation{
			whole(ViewProducts),
			key(ViewProductsByBrand, IDKey(m.BrandID)),
			key(ViewProductByBrandCategory, BrandCategoryKey(m.BrandID, m.Category)),
			whole(ViewLowestByCategory),
			whole(ViewHighestByCategory),
			whole(ViewLowestTotalBrand),
		}
	case MutationUpdateProductPrice, MutationDeleteProduct:
		return []Invalidation{
			whole(ViewProducts),
			key(ViewProductByID, IDKey(m.ProductID)),
			whole(ViewProductsByBrand),
			whole(ViewProductByBrandCategory),
			whole(ViewLowestByCategory),
			whole(ViewHighestByCategory),
			whole(ViewLowestTotalBrand),
		}
	case MutationUpdateProductPriceByBrandCategory:
		return []Invalidation{
			whole(ViewProducts),
			key(ViewProductsByBrand, IDKey(m.BrandID)),
			key(ViewProductByBrandCategory, BrandCategoryKey(m.BrandID, m.Category)),
			key(ViewLowestByCategory, string(m.Category)),
			key(ViewHighestByCategory, string(m.Category)),
			whole(ViewLowestTotalBrand),
			key(ViewProductByID, IDKey(m.ProductID)),
			key(ViewLowestByCategory, KeyAllCategories),
		}
	default:
		return nil
	}
}
