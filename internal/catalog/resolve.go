package catalog

import (
	"strconv"
	"strings"

	"github.com/BTreeMap/ShopPipe/internal/models"
)

// IsNumeric reports whether s is one or more ASCII digits.
func IsNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ByOrdinal returns the 1-based entry of the listing, or nil when out of range.
func ByOrdinal(token string, products []models.Product) *models.Product {
	n, err := strconv.Atoi(token)
	if err != nil || n < 1 || n > len(products) {
		return nil
	}
	p := products[n-1]
	return &p
}

// Resolve maps a chat token to a product. A digits-only token selects by
// position in the listing and nothing else, so an out-of-range number never
// matches. Any other token matches the first product whose
// name contains it, or whose name it contains, ignoring case; a product code
// equal to the token also matches.
func Resolve(token string, products []models.Product) *models.Product {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return nil
	}
	if IsNumeric(token) {
		return ByOrdinal(token, products)
	}
	for i := range products {
		name := strings.ToLower(products[i].Name)
		if name == "" {
			continue
		}
		if strings.Contains(name, token) || strings.Contains(token, name) ||
			(products[i].Code != "" && strings.EqualFold(products[i].Code, token)) {
			p := products[i]
			return &p
		}
	}
	return nil
}

// ResolveExact matches the whole product name, ignoring case and
// surrounding spaces.
func ResolveExact(name string, products []models.Product) *models.Product {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	for i := range products {
		if strings.EqualFold(strings.TrimSpace(products[i].Name), name) {
			p := products[i]
			return &p
		}
	}
	return nil
}
