package flow

import (
	"strings"

	"github.com/BTreeMap/ShopPipe/internal/catalog"
	"github.com/BTreeMap/ShopPipe/internal/models"
)

// Command is a recognized command phrase.
type Command string

const (
	CmdCatalog  Command = "catalog"
	CmdCart     Command = "cart"
	CmdCheckout Command = "checkout"
	CmdCancel   Command = "cancel"
	CmdHuman    Command = "human"
	CmdExit     Command = "exit"
	CmdBack     Command = "back"
	CmdHelp     Command = "help"
	CmdConfirm  Command = "confirm"
	CmdReplace  Command = "replace"
)

// commandPhrases maps a lower-cased, trimmed message to its command. Only
// whole-message matches count, so "produtos" is always the catalog command
// even when a product name contains it.
var commandPhrases = map[string]Command{
	"produtos":                CmdCatalog,
	"catalogo":                CmdCatalog,
	"catálogo":                CmdCatalog,
	"cardápio":                CmdCatalog,
	"cardapio":                CmdCatalog,
	"ver catálogo":            CmdCatalog,
	"ver catalogo":            CmdCatalog,
	"carrinho":                CmdCart,
	"ver carrinho":            CmdCart,
	"confirmar pedido":        CmdCheckout,
	"finalizar compra":        CmdCheckout,
	"finalizar":               CmdCheckout,
	"cancelar pedido":         CmdCancel,
	"cancelar":                CmdCancel,
	"vendedor":                CmdHuman,
	"atendente":               CmdHuman,
	"falar com atendente":     CmdHuman,
	"sair":                    CmdExit,
	"menu principal":          CmdBack,
	"menu":                    CmdBack,
	"voltar":                  CmdBack,
	"ajuda":                   CmdHelp,
	"confirmar":               CmdConfirm,
	"confirmar endereço":      CmdConfirm,
	"confirmar endereco":      CmdConfirm,
	"cadastrar novo endereço": CmdReplace,
	"cadastrar novo endereco": CmdReplace,
	"novo endereço":           CmdReplace,
	"novo endereco":           CmdReplace,
}

// IntentKind is the outcome category of Classify.
type IntentKind int

const (
	IntentFreeText IntentKind = iota
	IntentCommand
	// IntentProduct carries a resolved product.
	IntentProduct
	// IntentNoSelection is a numeric selector outside the listing.
	IntentNoSelection
)

// Intent is a classified message.
type Intent struct {
	Kind    IntentKind
	Command Command
	Product *models.Product
	// Add is set when the message came from an "Adicionar: <name>" option.
	Add  bool
	Text string
}

// ClassifyCommand matches only the exact command phrases.
func ClassifyCommand(text string) (Command, bool) {
	cmd, ok := commandPhrases[normalize(text)]
	return cmd, ok
}

// Classify maps text to an Intent. Precedence is command phrase, then
// numeric selector, then product name match, then free text.
func Classify(text string, products []models.Product) Intent {
	norm := normalize(text)
	in := Intent{Kind: IntentFreeText, Text: strings.TrimSpace(text)}
	if norm == "" {
		return in
	}
	if cmd, ok := commandPhrases[norm]; ok {
		in.Kind, in.Command = IntentCommand, cmd
		return in
	}

	prefix := strings.ToLower(catalog.AddOptionPrefix)
	if strings.HasPrefix(norm, strings.TrimSpace(prefix)) {
		name := strings.TrimSpace(strings.TrimPrefix(norm, strings.TrimSpace(prefix)))
		if p := catalog.ResolveExact(name, products); p != nil {
			in.Kind, in.Product, in.Add = IntentProduct, p, true
		}
		return in
	}

	if catalog.IsNumeric(norm) {
		if p := catalog.ByOrdinal(norm, products); p != nil {
			in.Kind, in.Product = IntentProduct, p
		} else {
			in.Kind = IntentNoSelection
		}
		return in
	}

	if p := catalog.Resolve(norm, products); p != nil {
		in.Kind, in.Product = IntentProduct, p
	}
	return in
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
