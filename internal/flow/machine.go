package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BTreeMap/ShopPipe/internal/cart"
	"github.com/BTreeMap/ShopPipe/internal/catalog"
	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/notify"
)

// User-facing texts.
const (
	MsgEmptyCatalog     = "Nenhum produto cadastrado."
	MsgEmptyCart        = "Seu carrinho está vazio."
	MsgHandoff          = "Um atendente irá falar com você em breve!"
	MsgGoodbye          = "Obrigado por visitar nossa loja!"
	MsgCanceled         = "Seu pedido foi cancelado."
	MsgInvalidOption    = "Escolha uma opção válida."
	MsgProductAdded     = "Produto \"%s\" adicionado ao carrinho!"
	MsgProductNotFound  = "Produto não encontrado."
	MsgAskAddress       = "Por favor, envie seu endereço de entrega:"
	MsgAskNewAddress    = "Por favor, envie seu novo endereço de entrega:"
	MsgAddressTooShort  = "Endereço muito curto. Por favor, envie o endereço completo."
	MsgAddressSaved     = "Endereço cadastrado com sucesso!"
	MsgOrderPlaced      = "Pedido finalizado! Em breve entraremos em contato para combinar a entrega e o pagamento."
	MsgBackToMenu       = "Voltando ao menu principal..."
	MsgStoreError       = "Desculpe, ocorreu um erro ao processar sua solicitação. Por favor, tente novamente mais tarde."
	MsgOwnerHandoff     = "📩 Cliente %s pediu atendimento."
	MinAddressLength    = 5
	addressConfirmLabel = "Confirmar endereço"
	addressReplaceLabel = "Cadastrar novo endereço"
)

// MainMenu is the menu sent on first contact and whenever the user goes back.
func MainMenu() models.ChoiceMenu {
	return models.ChoiceMenu{
		Title:   "Menu Principal",
		Prompt:  "Olá! Bem-vindo à nossa loja. O que deseja fazer?",
		Options: []string{"Ver catálogo", "Ver carrinho", "Falar com atendente", "Sair"},
	}
}

// CartMenu summarizes c with the checkout options.
func CartMenu(c *models.Cart) models.ChoiceMenu {
	var b strings.Builder
	b.WriteString("🛒 *Seu Carrinho*\n\n")
	for _, item := range c.Items {
		fmt.Fprintf(&b, "%dx %s - %s\n", item.Quantity, item.Name, models.FormatBRL(item.Subtotal()))
	}
	fmt.Fprintf(&b, "\n*Total: %s*", models.FormatBRL(c.Total))
	return models.ChoiceMenu{
		Title:   "Carrinho",
		Prompt:  b.String(),
		Options: []string{"Finalizar compra", "Cancelar pedido", "Menu principal"},
	}
}

// AddressMenu asks the user to confirm or replace address.
func AddressMenu(address string) models.ChoiceMenu {
	return models.ChoiceMenu{
		Title:   "Endereço de entrega",
		Prompt:  fmt.Sprintf("Seu endereço atual é:\n%s\n\nDeseja confirmar ou cadastrar um novo?", address),
		Options: []string{addressConfirmLabel, addressReplaceLabel},
	}
}

// ProductSource lists the active catalog.
type ProductSource interface {
	ActiveProducts(ctx context.Context) ([]models.Product, error)
}

// OrderPlacer turns a confirmed cart into an order.
type OrderPlacer interface {
	PlaceFromCart(ctx context.Context, c *models.Cart) (*models.Order, error)
}

// Responder answers free text.
type Responder interface {
	Respond(ctx context.Context, userID, text string) string
}

// Option configures a Machine.
type Option func(*Machine)

// WithOrders places orders on address confirmation. Without it a confirmed
// cart is only closed.
func WithOrders(o OrderPlacer) Option {
	return func(m *Machine) { m.orders = o }
}

// WithAssistant answers free text in MENU.
func WithAssistant(r Responder) Option {
	return func(m *Machine) { m.assistant = r }
}

// WithOwner notifies the owner on hand-off requests.
func WithOwner(o *notify.Owner) Option {
	return func(m *Machine) { m.owner = o }
}

// WithJobScheduler enables the inactivity notice.
func WithJobScheduler(s *JobScheduler) Option {
	return func(m *Machine) { m.jobs = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// Machine is the conversation state machine. Steps for the same user run
// one at a time; different users never block each other.
type Machine struct {
	carts     *cart.Store
	products  ProductSource
	orders    OrderPlacer
	assistant Responder
	owner     *notify.Owner
	jobs      *JobScheduler
	locks     *keyedMutex
	now       func() time.Time
}

// NewMachine builds a Machine over carts and products.
func NewMachine(carts *cart.Store, products ProductSource, opts ...Option) *Machine {
	m := &Machine{carts: carts, products: products, locks: newKeyedMutex(), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// step is the working set of one Handle call.
type step struct {
	ctx     context.Context
	userID  string
	text    string
	cart    *models.Cart
	closed  bool
	replies []models.Reply
}

func (s *step) say(replies ...models.Reply) {
	s.replies = append(s.replies, replies...)
}

func (s *step) sayf(format string, args ...interface{}) {
	s.say(models.Text(fmt.Sprintf(format, args...)))
}

// Handle runs one message through the machine and returns the replies to
// send, in order. Store failures produce the generic apology and leave the
// state where it was.
func (m *Machine) Handle(ctx context.Context, userID, text string) []models.Reply {
	unlock := m.locks.Lock(userID)
	defer unlock()

	c, err := m.carts.Load(userID)
	if err != nil {
		slog.Error("Machine.Handle: load cart failed", "userID", userID, "error", err)
		return []models.Reply{models.Text(MsgStoreError)}
	}

	s := &step{ctx: ctx, userID: userID, text: text, cart: c}
	if c == nil {
		err = m.start(s)
	} else {
		slog.Debug("Machine.Handle: step", "userID", userID, "state", c.State)
		err = m.dispatch(s)
	}
	if err != nil {
		slog.Error("Machine.Handle: step failed", "userID", userID, "error", err)
		return []models.Reply{models.Text(MsgStoreError)}
	}

	if !s.closed {
		m.touch(s.cart)
	}
	return s.replies
}

func (m *Machine) start(s *step) error {
	c, err := m.carts.CreateWelcome(s.userID)
	if err != nil {
		return err
	}
	if err := m.carts.SetState(c, models.StateMenu); err != nil {
		return err
	}
	s.cart = c
	s.say(MainMenu())
	return nil
}

func (m *Machine) dispatch(s *step) error {
	switch s.cart.State {
	case models.StateAwaitingAddress:
		return m.onAwaitingAddress(s)
	case models.StateAwaitingAddressConfirmation:
		return m.onAwaitingConfirmation(s)
	}

	products, err := m.products.ActiveProducts(s.ctx)
	if err != nil {
		return err
	}
	in := Classify(s.text, products)

	switch s.cart.State {
	case models.StateAwaitingCatalogSelection:
		return m.onCatalogSelection(s, in, products)
	case models.StateAwaitingCartAction:
		return m.onCartAction(s, in, products)
	default:
		return m.onMenu(s, in, products)
	}
}

// common handles the commands that mean the same thing in every state.
// It reports false when in is not one of them.
func (m *Machine) common(s *step, in Intent, products []models.Product) (bool, error) {
	if in.Kind != IntentCommand {
		return false, nil
	}
	switch in.Command {
	case CmdCatalog:
		return true, m.showCatalog(s, products)
	case CmdCart:
		return true, m.showCart(s)
	case CmdHuman:
		return true, m.handoff(s)
	case CmdExit:
		return true, m.exit(s, MsgGoodbye)
	case CmdBack, CmdHelp:
		if s.cart.State != models.StateMenu {
			s.say(models.Text(MsgBackToMenu))
		}
		s.say(MainMenu())
		return true, m.carts.SetState(s.cart, models.StateMenu)
	}
	return false, nil
}

func (m *Machine) onMenu(s *step, in Intent, products []models.Product) error {
	if ok, err := m.common(s, in, products); ok || err != nil {
		return err
	}
	switch in.Kind {
	case IntentCommand:
		switch in.Command {
		case CmdCheckout:
			return m.checkout(s)
		case CmdCancel:
			return m.exit(s, MsgCanceled)
		}
	case IntentProduct:
		if in.Add {
			return m.addProduct(s, *in.Product)
		}
		s.say(models.Text(catalog.Card(*in.Product)))
		return nil
	case IntentFreeText:
		if m.assistant != nil {
			s.say(models.Text(m.assistant.Respond(s.ctx, s.userID, in.Text)))
			return nil
		}
	}
	s.say(models.Text(MsgInvalidOption), MainMenu())
	return nil
}

func (m *Machine) onCatalogSelection(s *step, in Intent, products []models.Product) error {
	if ok, err := m.common(s, in, products); ok || err != nil {
		return err
	}
	if in.Kind == IntentProduct {
		return m.addProduct(s, *in.Product)
	}
	if in.Kind == IntentCommand && in.Command == CmdCancel {
		return m.exit(s, MsgCanceled)
	}
	s.say(models.Text(MsgProductNotFound))
	return nil
}

func (m *Machine) onCartAction(s *step, in Intent, products []models.Product) error {
	if in.Kind == IntentCommand {
		switch in.Command {
		case CmdCheckout, CmdConfirm:
			return m.checkout(s)
		case CmdCancel:
			return m.exit(s, MsgCanceled)
		}
	}
	if ok, err := m.common(s, in, products); ok || err != nil {
		return err
	}
	s.say(models.Text(MsgInvalidOption), CartMenu(s.cart))
	return nil
}

func (m *Machine) onAwaitingAddress(s *step) error {
	if cmd, ok := ClassifyCommand(s.text); ok {
		switch cmd {
		case CmdCancel:
			return m.exit(s, MsgCanceled)
		case CmdExit:
			return m.exit(s, MsgGoodbye)
		case CmdBack:
			s.say(models.Text(MsgBackToMenu), MainMenu())
			return m.carts.SetState(s.cart, models.StateMenu)
		}
	}

	address := strings.TrimSpace(s.text)
	if utf8.RuneCountInString(address) < MinAddressLength {
		s.say(models.Text(MsgAddressTooShort))
		return nil
	}
	s.cart.State = models.StateAwaitingAddressConfirmation
	if err := m.carts.SetAddress(s.cart, address); err != nil {
		return err
	}
	s.say(models.Text(MsgAddressSaved), AddressMenu(s.cart.Address))
	return nil
}

func (m *Machine) onAwaitingConfirmation(s *step) error {
	cmd, _ := ClassifyCommand(s.text)
	switch cmd {
	case CmdConfirm, CmdCheckout:
		return m.placeOrder(s)
	case CmdReplace:
		s.say(models.Text(MsgAskNewAddress))
		return m.carts.SetState(s.cart, models.StateAwaitingAddress)
	case CmdCancel:
		return m.exit(s, MsgCanceled)
	case CmdExit:
		return m.exit(s, MsgGoodbye)
	case CmdBack:
		s.say(models.Text(MsgBackToMenu), MainMenu())
		return m.carts.SetState(s.cart, models.StateMenu)
	}
	s.say(models.Text(MsgInvalidOption), AddressMenu(s.cart.Address))
	return nil
}

func (m *Machine) showCatalog(s *step, products []models.Product) error {
	if len(products) == 0 {
		s.say(models.Text(MsgEmptyCatalog))
		return m.carts.SetState(s.cart, models.StateMenu)
	}
	if err := m.carts.SetState(s.cart, models.StateAwaitingCatalogSelection); err != nil {
		return err
	}
	s.say(models.Text(catalog.Listing(products, m.now())))
	for _, menu := range catalog.AddMenus(products) {
		s.say(menu)
	}
	return nil
}

func (m *Machine) showCart(s *step) error {
	if s.cart.IsEmpty() {
		s.say(models.Text(MsgEmptyCart), MainMenu())
		return m.carts.SetState(s.cart, models.StateMenu)
	}
	if err := m.carts.SetState(s.cart, models.StateAwaitingCartAction); err != nil {
		return err
	}
	s.say(CartMenu(s.cart))
	return nil
}

func (m *Machine) addProduct(s *step, p models.Product) error {
	s.cart.State = models.StateMenu
	if err := m.carts.AddItem(s.cart, p, 1); err != nil {
		return err
	}
	s.sayf(MsgProductAdded, p.Name)
	s.say(MainMenu())
	return nil
}

func (m *Machine) handoff(s *step) error {
	if err := m.owner.Notify(fmt.Sprintf(MsgOwnerHandoff, s.userID), ""); err != nil {
		slog.Warn("Machine.handoff: owner notification failed", "userID", s.userID, "error", err)
	}
	s.say(models.Text(MsgHandoff))
	return m.carts.SetState(s.cart, models.StateMenu)
}

func (m *Machine) checkout(s *step) error {
	if s.cart.IsEmpty() {
		s.say(models.Text(MsgEmptyCart), MainMenu())
		return m.carts.SetState(s.cart, models.StateMenu)
	}
	if s.cart.Address == "" {
		s.say(models.Text(MsgAskAddress))
		return m.carts.SetState(s.cart, models.StateAwaitingAddress)
	}
	s.say(AddressMenu(s.cart.Address))
	return m.carts.SetState(s.cart, models.StateAwaitingAddressConfirmation)
}

func (m *Machine) placeOrder(s *step) error {
	if s.cart.IsEmpty() {
		s.say(models.Text(MsgEmptyCart), MainMenu())
		return m.carts.SetState(s.cart, models.StateMenu)
	}
	if m.orders == nil {
		if err := m.close(s); err != nil {
			return err
		}
		s.say(models.Text(MsgOrderPlaced))
		return nil
	}

	order, err := m.orders.PlaceFromCart(s.ctx, s.cart)
	if err != nil {
		return fmt.Errorf("place order: %w", err)
	}
	slog.Info("Machine.placeOrder: order placed", "userID", s.userID, "orderID", order.ID, "total", order.Total)

	// The order exists from here on; a retry must not place it again.
	if err := m.close(s); err != nil {
		slog.Error("Machine.placeOrder: clear cart failed", "userID", s.userID, "orderID", order.ID, "error", err)
		m.emptyCart(s)
	}
	s.say(models.Text(MsgOrderPlaced))
	return nil
}

// emptyCart drops the items of a cart that could not be deleted and sends
// it back to MENU.
func (m *Machine) emptyCart(s *step) {
	if m.jobs != nil {
		m.jobs.CancelInactivity(s.cart.InactivityJobID)
	}
	s.cart.Items = nil
	s.cart.InactivityJobID = ""
	s.cart.State = models.StateMenu
	if err := m.carts.Save(s.cart); err != nil {
		slog.Error("Machine.emptyCart: save failed", "userID", s.userID, "error", err)
	}
	s.closed = true
}

func (m *Machine) exit(s *step, text string) error {
	if err := m.close(s); err != nil {
		return err
	}
	s.say(models.Text(text))
	return nil
}

// close deletes the cart and its pending inactivity notice.
func (m *Machine) close(s *step) error {
	if err := m.carts.Clear(s.userID); err != nil {
		return err
	}
	if m.jobs != nil {
		m.jobs.CancelInactivity(s.cart.InactivityJobID)
	}
	s.closed = true
	return nil
}

// touch records the interaction and moves the inactivity notice forward.
// Failures are logged; the step has already been applied.
func (m *Machine) touch(c *models.Cart) {
	now := m.now()
	c.LastInteraction = now
	if m.jobs != nil {
		id, err := m.jobs.RescheduleInactivity(c.UserID, c.InactivityJobID, now)
		if err != nil {
			slog.Warn("Machine.touch: reschedule inactivity failed", "userID", c.UserID, "error", err)
		}
		c.InactivityJobID = id
	}
	if err := m.carts.Save(c); err != nil {
		slog.Warn("Machine.touch: save failed", "userID", c.UserID, "error", err)
	}
}
