package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/cart"
	"github.com/BTreeMap/ShopPipe/internal/catalog"
	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/notify"
	"github.com/BTreeMap/ShopPipe/internal/orders"
	"github.com/BTreeMap/ShopPipe/internal/store"
)

const testUser = "5511988887777"

type harness struct {
	st      *store.InMemoryStore
	carts   *cart.Store
	machine *Machine
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	return newHarnessOn(t, nil, nil, opts...)
}

// newHarnessOn is newHarness with the cart repository wrapped by wrap and
// the cart store built with cartOpts.
func newHarnessOn(t *testing.T, wrap func(*store.InMemoryStore) store.CartRepo, cartOpts []cart.Option, opts ...Option) *harness {
	t.Helper()
	st := store.NewInMemoryStore()
	for _, p := range []models.Product{
		{Code: "CAN01", Name: "Caneta Azul", Price: 250, Unit: "UNID", Active: true},
		{Name: "Caderno", Price: 1899, Unit: "UNID", Active: true},
	} {
		if _, err := st.CreateProduct(p); err != nil {
			t.Fatalf("seed product: %v", err)
		}
	}
	var repo store.CartRepo = st
	if wrap != nil {
		repo = wrap(st)
	}
	cat := catalog.New(st)
	carts := cart.New(repo, cartOpts...)
	owner := notify.NewOwner(st, "5511900000000")
	base := []Option{
		WithOrders(orders.NewService(st, cat, orders.WithOwnerNotifier(owner))),
		WithOwner(owner),
		WithJobScheduler(NewJobScheduler(st, DefaultInactivityDelay)),
	}
	return &harness{st: st, carts: carts, machine: NewMachine(carts, cat, append(base, opts...)...)}
}

// flakyCarts fails the next failGet reads or failDelete deletes.
type flakyCarts struct {
	*store.InMemoryStore
	failGet    int
	failDelete int
}

func (f *flakyCarts) GetCart(userID string) (*models.Cart, error) {
	if f.failGet > 0 {
		f.failGet--
		return nil, errors.New("database is locked")
	}
	return f.InMemoryStore.GetCart(userID)
}

func (f *flakyCarts) DeleteCart(userID string) error {
	if f.failDelete > 0 {
		f.failDelete--
		return errors.New("database is locked")
	}
	return f.InMemoryStore.DeleteCart(userID)
}

func (h *harness) send(t *testing.T, text string) string {
	t.Helper()
	return flatten(h.machine.Handle(context.Background(), testUser, text))
}

func (h *harness) state(t *testing.T) models.State {
	t.Helper()
	c, err := h.st.GetCart(testUser)
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if c == nil {
		return ""
	}
	return c.State
}

// flatten joins every reply's visible text.
func flatten(replies []models.Reply) string {
	var parts []string
	for _, r := range replies {
		switch v := r.(type) {
		case models.PlainText:
			parts = append(parts, v.Text)
		case models.ChoiceMenu:
			parts = append(parts, v.Title, v.Prompt, strings.Join(v.Options, "|"))
		}
	}
	return strings.Join(parts, "\n")
}

func TestMachine_FirstContactSendsMainMenu(t *testing.T) {
	h := newHarness(t)
	replies := h.machine.Handle(context.Background(), testUser, "produtos")
	if len(replies) != 1 {
		t.Fatalf("got %d replies, want the main menu", len(replies))
	}
	menu, ok := replies[0].(models.ChoiceMenu)
	if !ok || menu.Title != "Menu Principal" || len(menu.Options) != 4 {
		t.Errorf("unexpected first reply %+v", replies[0])
	}
	if got := h.state(t); got != models.StateMenu {
		t.Errorf("state = %q, want menu", got)
	}
}

func TestMachine_HappyPathPurchase(t *testing.T) {
	h := newHarness(t)
	h.send(t, "oi")

	steps := []struct {
		input     string
		wantText  string
		wantState models.State
	}{
		{"produtos", "Catálogo de Produtos", models.StateAwaitingCatalogSelection},
		{"1", `Produto "Caneta Azul" adicionado ao carrinho!`, models.StateMenu},
		{"carrinho", "1x Caneta Azul - R$ 2,50", models.StateAwaitingCartAction},
		{"confirmar pedido", MsgAskAddress, models.StateAwaitingAddress},
		{"Rua das Flores, 123 A", MsgAddressSaved, models.StateAwaitingAddressConfirmation},
		{"confirmar", MsgOrderPlaced, ""},
	}
	for _, step := range steps {
		out := h.send(t, step.input)
		if !strings.Contains(out, step.wantText) {
			t.Fatalf("%q: reply missing %q:\n%s", step.input, step.wantText, out)
		}
		if got := h.state(t); got != step.wantState {
			t.Fatalf("%q: state = %q, want %q", step.input, got, step.wantState)
		}
	}

	placed, _ := h.st.ListOrders()
	if len(placed) != 1 {
		t.Fatalf("got %d orders, want 1", len(placed))
	}
	if placed[0].Total != 250 || placed[0].Address != "Rua das Flores, 123 A" || placed[0].PhoneNumber != testUser {
		t.Errorf("unexpected order %+v", placed[0])
	}
	found := false
	for _, msg := range h.st.OutboxMessages() {
		if msg.Kind == notify.KindOwnerNotification && strings.Contains(msg.PayloadJSON, placed[0].ID) {
			found = true
		}
	}
	if !found {
		t.Error("owner was not notified of the order")
	}
}

func TestMachine_InvalidAddressKeepsState(t *testing.T) {
	h := newHarness(t)
	h.send(t, "oi")
	h.send(t, "produtos")
	h.send(t, "caderno")
	h.send(t, "carrinho")
	h.send(t, "finalizar compra")

	out := h.send(t, "Rua")
	if out != MsgAddressTooShort {
		t.Errorf("reply = %q", out)
	}
	if got := h.state(t); got != models.StateAwaitingAddress {
		t.Errorf("state = %q, want awaiting_address", got)
	}
}

func TestMachine_AddressOnFileAsksConfirmation(t *testing.T) {
	h := newHarness(t)
	h.send(t, "oi")
	c, _ := h.carts.Require(testUser)
	c.Address = "Av. Paulista, 1000"
	h.carts.AddItem(c, models.Product{ID: 1, Name: "Caneta Azul", Price: 250}, 2)

	h.send(t, "carrinho")
	out := h.send(t, "finalizar")
	if !strings.Contains(out, "Seu endereço atual é:\nAv. Paulista, 1000") {
		t.Errorf("reply = %q", out)
	}
	if got := h.state(t); got != models.StateAwaitingAddressConfirmation {
		t.Fatalf("state = %q", got)
	}

	out = h.send(t, "cadastrar novo endereço")
	if out != MsgAskNewAddress || h.state(t) != models.StateAwaitingAddress {
		t.Errorf("replace: reply %q, state %q", out, h.state(t))
	}
}

func TestMachine_CatalogSelectionMisses(t *testing.T) {
	h := newHarness(t)
	h.send(t, "oi")
	h.send(t, "produtos")

	for _, input := range []string{"0", "3", "régua"} {
		if out := h.send(t, input); out != MsgProductNotFound {
			t.Errorf("%q: reply = %q", input, out)
		}
		if got := h.state(t); got != models.StateAwaitingCatalogSelection {
			t.Errorf("%q: state = %q", input, got)
		}
	}
}

func TestMachine_AddOptionFromMenu(t *testing.T) {
	h := newHarness(t)
	h.send(t, "oi")
	h.send(t, "Adicionar: Caderno")
	h.send(t, "adicionar: caderno")

	c, _ := h.carts.Require(testUser)
	if len(c.Items) != 1 || c.Items[0].Quantity != 2 || c.Total != 3798 {
		t.Errorf("cart = %+v", c)
	}
}

func TestMachine_EmptyCartAndCatalog(t *testing.T) {
	h := newHarness(t)
	h.send(t, "oi")
	if out := h.send(t, "ver carrinho"); !strings.HasPrefix(out, MsgEmptyCart) {
		t.Errorf("reply = %q", out)
	}
	if got := h.state(t); got != models.StateMenu {
		t.Errorf("state = %q", got)
	}

	empty := newHarness(t)
	for _, p := range []int64{1, 2} {
		empty.st.DeactivateProduct(p)
	}
	empty.send(t, "oi")
	if out := empty.send(t, "catálogo"); out != MsgEmptyCatalog {
		t.Errorf("reply = %q", out)
	}
}

func TestMachine_ProductCardOnMenu(t *testing.T) {
	h := newHarness(t)
	h.send(t, "oi")
	out := h.send(t, "caneta")
	if !strings.Contains(out, "*Caneta Azul*") || !strings.Contains(out, "Código: CAN01") {
		t.Errorf("reply = %q", out)
	}
	if out := h.send(t, "2"); !strings.HasPrefix(out, "*Caderno*") {
		t.Errorf("ordinal reply = %q", out)
	}
	if out := h.send(t, "9"); !strings.HasPrefix(out, MsgInvalidOption) {
		t.Errorf("out-of-range ordinal reply = %q", out)
	}
	if got := h.state(t); got != models.StateMenu {
		t.Errorf("state = %q", got)
	}
}

func TestMachine_HandoffNotifiesOwner(t *testing.T) {
	h := newHarness(t)
	h.send(t, "oi")
	if out := h.send(t, "vendedor"); out != MsgHandoff {
		t.Errorf("reply = %q", out)
	}
	msgs := h.st.OutboxMessages()
	if len(msgs) != 1 || msgs[0].RecipientID != "5511900000000" {
		t.Fatalf("outbox = %+v", msgs)
	}
	text, _ := notify.DecodePayload(msgs[0].PayloadJSON)
	if text != "📩 Cliente "+testUser+" pediu atendimento." {
		t.Errorf("owner text = %q", text)
	}
}

func TestMachine_ExitAndCancelDeleteCart(t *testing.T) {
	for _, tt := range []struct{ input, want string }{{"sair", MsgGoodbye}, {"cancelar", MsgCanceled}} {
		h := newHarness(t)
		h.send(t, "oi")
		if out := h.send(t, tt.input); out != tt.want {
			t.Errorf("%q: reply = %q", tt.input, out)
		}
		if got := h.state(t); got != "" {
			t.Errorf("%q: cart still present in state %q", tt.input, got)
		}
	}
}

type stubResponder struct {
	calls []string
}

func (r *stubResponder) Respond(ctx context.Context, userID, text string) string {
	r.calls = append(r.calls, text)
	return "resposta da IA"
}

func TestMachine_FreeTextGoesToAssistantOnlyInMenu(t *testing.T) {
	ai := &stubResponder{}
	h := newHarness(t, WithAssistant(ai))
	h.send(t, "oi")
	if out := h.send(t, "qual o horário de vocês?"); out != "resposta da IA" {
		t.Errorf("reply = %q", out)
	}

	h.send(t, "produtos")
	if out := h.send(t, "qual o horário de vocês?"); out != MsgProductNotFound {
		t.Errorf("reply in catalog selection = %q", out)
	}
	if len(ai.calls) != 1 {
		t.Errorf("assistant called %d times, want 1", len(ai.calls))
	}
}

func TestMachine_FreeTextWithoutAssistant(t *testing.T) {
	h := newHarness(t)
	h.send(t, "oi")
	if out := h.send(t, "bom dia"); !strings.HasPrefix(out, MsgInvalidOption) {
		t.Errorf("reply = %q", out)
	}
}

type failingPlacer struct{}

func (failingPlacer) PlaceFromCart(ctx context.Context, c *models.Cart) (*models.Order, error) {
	return nil, errors.New("db down")
}

func TestMachine_OrderFailureKeepsState(t *testing.T) {
	h := newHarness(t, WithOrders(failingPlacer{}))
	h.send(t, "oi")
	h.send(t, "produtos")
	h.send(t, "2")
	h.send(t, "carrinho")
	h.send(t, "confirmar pedido")
	h.send(t, "Rua das Flores, 123")

	if out := h.send(t, "confirmar"); out != MsgStoreError {
		t.Errorf("reply = %q", out)
	}
	if got := h.state(t); got != models.StateAwaitingAddressConfirmation {
		t.Errorf("state = %q", got)
	}
}

func TestMachine_InactivityJobRescheduled(t *testing.T) {
	h := newHarness(t)
	h.send(t, "oi")
	first, _ := h.carts.Require(testUser)
	h.send(t, "produtos")
	second, _ := h.carts.Require(testUser)

	if first.InactivityJobID == "" || second.InactivityJobID == first.InactivityJobID {
		t.Fatalf("job ids %q -> %q", first.InactivityJobID, second.InactivityJobID)
	}
	old, _ := h.st.GetJob(first.InactivityJobID)
	if old == nil || old.Status != store.JobStatusCanceled {
		t.Errorf("previous job = %+v, want canceled", old)
	}
	cur, _ := h.st.GetJob(second.InactivityJobID)
	if cur == nil || cur.Status != store.JobStatusQueued || cur.Kind != JobKindInactivityNotice {
		t.Errorf("current job = %+v", cur)
	}

	h.send(t, "sair")
	cur, _ = h.st.GetJob(second.InactivityJobID)
	if cur.Status != store.JobStatusCanceled {
		t.Errorf("job after exit = %q, want canceled", cur.Status)
	}
}

// checkoutToConfirmation drives a fresh harness up to address confirmation.
func (h *harness) checkoutToConfirmation(t *testing.T) {
	t.Helper()
	for _, input := range []string{"oi", "produtos", "1", "carrinho", "confirmar pedido", "Rua das Flores, 123 A"} {
		h.send(t, input)
	}
	if got := h.state(t); got != models.StateAwaitingAddressConfirmation {
		t.Fatalf("state = %q, want awaiting_address_confirmation", got)
	}
}

func TestMachine_ClearFailureAfterOrderDoesNotDuplicate(t *testing.T) {
	var flaky *flakyCarts
	h := newHarnessOn(t, func(st *store.InMemoryStore) store.CartRepo {
		flaky = &flakyCarts{InMemoryStore: st}
		return flaky
	}, nil)
	h.checkoutToConfirmation(t)

	flaky.failDelete = 1
	if out := h.send(t, "confirmar"); out != MsgOrderPlaced {
		t.Errorf("first confirm reply = %q", out)
	}
	if out := h.send(t, "confirmar"); !strings.HasPrefix(out, MsgInvalidOption) {
		t.Errorf("second confirm reply = %q", out)
	}

	placed, _ := h.st.ListOrders()
	if len(placed) != 1 {
		t.Fatalf("got %d orders, want 1", len(placed))
	}
	c, _ := h.carts.Require(testUser)
	if c.State != models.StateMenu || !c.IsEmpty() {
		t.Errorf("cart after failed clear = %+v", c)
	}
	notices := 0
	for _, msg := range h.st.OutboxMessages() {
		if msg.Kind == notify.KindOwnerNotification {
			notices++
		}
	}
	if notices != 1 {
		t.Errorf("owner notified %d times, want 1", notices)
	}
}

func TestMachine_LoadFailureKeepsState(t *testing.T) {
	var flaky *flakyCarts
	h := newHarnessOn(t, func(st *store.InMemoryStore) store.CartRepo {
		flaky = &flakyCarts{InMemoryStore: st}
		return flaky
	}, nil)
	h.send(t, "oi")
	h.send(t, "produtos")

	flaky.failGet = 1
	if out := h.send(t, "1"); out != MsgStoreError {
		t.Errorf("reply = %q", out)
	}
	c, _ := h.carts.Require(testUser)
	if c.State != models.StateAwaitingCatalogSelection || !c.IsEmpty() {
		t.Errorf("cart after load failure = %+v", c)
	}

	if out := h.send(t, "1"); !strings.Contains(out, `Produto "Caneta Azul" adicionado ao carrinho!`) {
		t.Errorf("retry reply = %q", out)
	}
}

func TestMachine_CartActionCommands(t *testing.T) {
	for _, input := range []string{"voltar", "menu principal"} {
		h := newHarness(t)
		h.send(t, "oi")
		h.send(t, "adicionar: caderno")
		h.send(t, "carrinho")

		out := h.send(t, input)
		if !strings.HasPrefix(out, MsgBackToMenu) || !strings.Contains(out, "Menu Principal") {
			t.Errorf("%q: reply = %q", input, out)
		}
		c, _ := h.carts.Require(testUser)
		if c.State != models.StateMenu || len(c.Items) != 1 {
			t.Errorf("%q: cart = %+v", input, c)
		}
	}

	h := newHarness(t)
	h.send(t, "oi")
	h.send(t, "adicionar: caderno")
	h.send(t, "carrinho")
	if out := h.send(t, "cancelar pedido"); out != MsgCanceled {
		t.Errorf("cancel reply = %q", out)
	}
	if got := h.state(t); got != "" {
		t.Errorf("cart still present in state %q", got)
	}
	if placed, _ := h.st.ListOrders(); len(placed) != 0 {
		t.Errorf("cancel placed %d orders", len(placed))
	}
}

func TestMachine_ExpiredCartRestartsAtMainMenu(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	h := newHarnessOn(t, nil, []cart.Option{cart.WithClock(clock), cart.WithTTL(time.Hour)}, WithClock(clock))
	h.send(t, "oi")
	h.send(t, "adicionar: caderno")
	h.send(t, "carrinho")
	if got := h.state(t); got != models.StateAwaitingCartAction {
		t.Fatalf("state = %q", got)
	}

	now = now.Add(2 * time.Hour)
	replies := h.machine.Handle(context.Background(), testUser, "finalizar compra")
	if len(replies) != 1 {
		t.Fatalf("got %d replies, want the main menu", len(replies))
	}
	if menu, ok := replies[0].(models.ChoiceMenu); !ok || menu.Title != "Menu Principal" {
		t.Errorf("reply = %+v", replies[0])
	}
	c, _ := h.carts.Require(testUser)
	if c.State != models.StateMenu || !c.IsEmpty() {
		t.Errorf("cart after expiry = %+v", c)
	}
	if !c.LastInteraction.Equal(now) {
		t.Errorf("LastInteraction = %v, want %v", c.LastInteraction, now)
	}
}
