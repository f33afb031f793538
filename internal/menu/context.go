package menu

import (
	"fmt"
	"strings"
)

// defaultCategory groups products with no category.
const defaultCategory = "Diğer"

// BuildContext renders the menu as the category-grouped block the prompt
// embeds: one line per product with id, name, price, description, and
// allergens. Product order within a category is preserved.
func BuildContext(products []Product) string {
	if len(products) == 0 {
		return ""
	}

	// Keep first-seen category order stable.
	var order []string
	grouped := make(map[string][]Product)
	for _, p := range products {
		cat := p.Category
		if cat == "" {
			cat = defaultCategory
		}
		if _, seen := grouped[cat]; !seen {
			order = append(order, cat)
		}
		grouped[cat] = append(grouped[cat], p)
	}

	var sb strings.Builder
	for _, cat := range order {
		fmt.Fprintf(&sb, "%s:\n", cat)
		for _, p := range grouped[cat] {
			fmt.Fprintf(&sb, "  - ID:%d | %s | %.2f₺", p.ID, p.Name, p.Price)
			if p.Description != "" {
				sb.WriteString(" | ")
				sb.WriteString(p.Description)
			}
			if len(p.Allergens) > 0 {
				fmt.Fprintf(&sb, " [Alerjen: %s]", strings.Join(p.Allergens, ", "))
			}
			sb.WriteByte('\n')
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
