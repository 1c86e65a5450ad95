package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/models"
)

// AddOptionPrefix starts every "add to cart" menu option. The classifier
// recognizes it and resolves the rest with ResolveExact.
const AddOptionPrefix = "Adicionar: "

// menuChunk is the number of options WhatsApp renders per button message.
const menuChunk = 3

// Greeting returns the salutation for the hour of day.
func Greeting(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return "Bom dia"
	case h >= 12 && h < 18:
		return "Boa tarde"
	default:
		return "Boa noite"
	}
}

// Listing renders the numbered catalog message.
func Listing(products []models.Product, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s! 🛍️ *Catálogo de Produtos*\n\n", Greeting(now))
	for i, p := range products {
		fmt.Fprintf(&b, "*%d. %s*\n", i+1, p.Name)
		fmt.Fprintf(&b, "💰 Preço: %s\n", models.FormatBRL(p.Price))
		if p.Code != "" {
			fmt.Fprintf(&b, "📦 Código: %s\n", p.Code)
		}
		b.WriteString("\n")
	}
	b.WriteString("📝 Para comprar, digite o número ou nome do produto desejado")
	return b.String()
}

// AddMenus splits the listing into choice menus of at most three
// "Adicionar: <name>" options each.
func AddMenus(products []models.Product) []models.ChoiceMenu {
	var menus []models.ChoiceMenu
	for start := 0; start < len(products); start += menuChunk {
		end := start + menuChunk
		if end > len(products) {
			end = len(products)
		}
		menu := models.ChoiceMenu{
			Title:  "Adicionar ao carrinho",
			Prompt: "Toque para adicionar:",
		}
		for _, p := range products[start:end] {
			menu.Options = append(menu.Options, AddOptionPrefix+p.Name)
		}
		menus = append(menus, menu)
	}
	return menus
}

// Card renders a single product's details.
func Card(p models.Product) string {
	code := p.Code
	if code == "" {
		code = "N/A"
	}
	unit := p.Unit
	if unit == "" {
		unit = models.DefaultUnit
	}
	return fmt.Sprintf("*%s*\n💰 Preço: %s\n📦 Código: %s\n📏 Unidade: %s\n\nDigite *produtos* para ver o catálogo e adicionar ao carrinho.",
		p.Name, models.FormatBRL(p.Price), code, unit)
}
