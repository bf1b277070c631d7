package models

// Category is one of the three sketch subjects of the house-tree-person test.
type Category string

const (
	CategoryHouse  Category = "house"
	CategoryTree   Category = "tree"
	CategoryPerson Category = "person"
)

// Categories lists every category in the fixed processing order.
var Categories = []Category{CategoryHouse, CategoryTree, CategoryPerson} //nolint:gochecknoglobals // fixed order

// ParseCategory returns the category named s.
func ParseCategory(s string) (Category, bool) {
	switch Category(s) {
	case CategoryHouse, CategoryTree, CategoryPerson:
		return Category(s), true
	default:
		return "", false
	}
}

// Label is the Korean label the inference services expect as image type.
func (c Category) Label() string {
	switch c {
	case CategoryHouse:
		return "집"
	case CategoryTree:
		return "나무"
	case CategoryPerson:
		return "사람"
	default:
		return string(c)
	}
}

// DisplayName is the English name used in page titles and CLI output.
func (c Category) DisplayName() string {
	switch c {
	case CategoryHouse:
		return "House"
	case CategoryTree:
		return "Tree"
	case CategoryPerson:
		return "Person"
	default:
		return string(c)
	}
}
