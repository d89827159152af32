package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"wholesale-market/internal/gateway"
	"wholesale-market/internal/models"
	"wholesale-market/internal/settlement"
	"wholesale-market/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory stand-in for *store.Store.
type memStore struct {
	mu sync.Mutex

	products    map[uuid.UUID]*models.Product
	orders      map[uuid.UUID]*models.Order
	settlements map[uuid.UUID]*models.Settlement
	payments    map[uuid.UUID]*models.Payment
	cart        map[uuid.UUID]*models.CartItem

	stockFunctions bool
	decrementErr   error
	createOrderErr func(*models.Order) error
	paymentErr     error
	// beforeStatusWrite runs under the lock ahead of a status update; it may
	// change the stored order or fail the write.
	beforeStatusWrite func(*models.Order) error
}

func newMemStore() *memStore {
	return &memStore{
		products:       make(map[uuid.UUID]*models.Product),
		orders:         make(map[uuid.UUID]*models.Order),
		settlements:    make(map[uuid.UUID]*models.Settlement),
		payments:       make(map[uuid.UUID]*models.Payment),
		cart:           make(map[uuid.UUID]*models.CartItem),
		stockFunctions: true,
	}
}

func (m *memStore) addProduct(name string, price int64, stock int) *models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := &models.Product{
		ID:            uuid.New(),
		SellerID:      uuid.New(),
		Name:          name,
		Price:         price,
		StockQuantity: stock,
		IsActive:      true,
	}
	m.products[p.ID] = p
	return p
}

func (m *memStore) stock(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].StockQuantity
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memStore) settlementCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.settlements)
}

func (m *memStore) GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, store.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memStore) DecrementStockAtomic(ctx context.Context, productID uuid.UUID, quantity int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.stockFunctions {
		return 0, store.ErrStockFunctionMissing
	}
	if m.decrementErr != nil {
		return 0, m.decrementErr
	}
	p, ok := m.products[productID]
	if !ok {
		return 0, fmt.Errorf("product %s: %w", productID, store.ErrNotFound)
	}
	p.StockQuantity -= quantity
	if p.StockQuantity < 0 {
		p.StockQuantity = 0
	}
	return p.StockQuantity, nil
}

func (m *memStore) IncrementStockAtomic(ctx context.Context, productID uuid.UUID, quantity int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.stockFunctions {
		return 0, store.ErrStockFunctionMissing
	}
	p, ok := m.products[productID]
	if !ok {
		return 0, fmt.Errorf("product %s: %w", productID, store.ErrNotFound)
	}
	p.StockQuantity += quantity
	return p.StockQuantity, nil
}

func (m *memStore) GetStockQuantity(ctx context.Context, productID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok {
		return 0, fmt.Errorf("product %s: %w", productID, store.ErrNotFound)
	}
	return p.StockQuantity, nil
}

func (m *memStore) SetStockQuantity(ctx context.Context, productID uuid.UUID, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok {
		return fmt.Errorf("product %s: %w", productID, store.ErrNotFound)
	}
	p.StockQuantity = quantity
	return nil
}

func (m *memStore) CreateOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createOrderErr != nil {
		if err := m.createOrderErr(order); err != nil {
			return err
		}
	}
	for _, o := range m.orders {
		if o.OrderNumber == order.OrderNumber {
			return fmt.Errorf("order %s: %w", order.OrderNumber, store.ErrDuplicate)
		}
	}
	order.ID = uuid.New()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	cp := *order
	m.orders[order.ID] = &cp
	return nil
}

func (m *memStore) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, store.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) selectOrders(match func(*models.Order) bool) []models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Order
	for _, o := range m.orders {
		if match(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].OrderNumber, out[j].OrderNumber
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	})
	return out
}

func (m *memStore) GetOrdersByPaymentKey(ctx context.Context, paymentKey string) ([]models.Order, error) {
	return m.selectOrders(func(o *models.Order) bool {
		return o.PaymentKey != nil && *o.PaymentKey == paymentKey
	}), nil
}

func (m *memStore) GetOrdersByGroupID(ctx context.Context, groupID string) ([]models.Order, error) {
	return m.selectOrders(func(o *models.Order) bool { return o.OrderGroupID == groupID }), nil
}

func (m *memStore) GetOrdersByBuyerID(ctx context.Context, buyerID uuid.UUID, limit, offset int) ([]models.Order, error) {
	all := m.selectOrders(func(o *models.Order) bool { return o.BuyerID == buyerID })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *memStore) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, from []string, status string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return false, nil
	}
	if m.beforeStatusWrite != nil {
		if err := m.beforeStatusWrite(o); err != nil {
			return false, err
		}
	}
	for _, f := range from {
		if o.Status == f {
			o.Status = status
			if status == models.OrderStatusCancelled {
				now := time.Now()
				o.CancelledAt = &now
			}
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) setOrderStatus(id uuid.UUID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[id].Status = status
}

func (m *memStore) GetSettlementByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.settlements[orderID]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (m *memStore) CreateSettlement(ctx context.Context, st *models.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.settlements[st.OrderID]; ok {
		return fmt.Errorf("settlement for order %s: %w", st.OrderID, store.ErrDuplicate)
	}
	st.ID = uuid.New()
	st.CreatedAt = time.Now()
	cp := *st
	m.settlements[st.OrderID] = &cp
	return nil
}

func (m *memStore) GetPaymentByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[orderID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.paymentErr != nil {
		return m.paymentErr
	}
	if _, ok := m.payments[payment.OrderID]; ok {
		return fmt.Errorf("payment for order %s: %w", payment.OrderID, store.ErrDuplicate)
	}
	payment.ID = uuid.New()
	payment.CreatedAt = time.Now()
	cp := *payment
	m.payments[payment.OrderID] = &cp
	return nil
}

func (m *memStore) UpsertCartItem(ctx context.Context, item *models.CartItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.cart {
		if existing.BuyerID == item.BuyerID && existing.ProductID == item.ProductID && sameVariant(existing.VariantID, item.VariantID) {
			existing.Quantity += item.Quantity
			*item = *existing
			return nil
		}
	}
	item.ID = uuid.New()
	item.CreatedAt = time.Now()
	cp := *item
	m.cart[item.ID] = &cp
	return nil
}

func sameVariant(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (m *memStore) ListCartItems(ctx context.Context, buyerID uuid.UUID) ([]models.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.CartItem
	for _, item := range m.cart {
		if item.BuyerID == buyerID {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (m *memStore) UpdateCartItemQuantity(ctx context.Context, buyerID, itemID uuid.UUID, quantity int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.cart[itemID]
	if !ok || item.BuyerID != buyerID {
		return false, nil
	}
	item.Quantity = quantity
	return true, nil
}

func (m *memStore) DeleteCartItem(ctx context.Context, buyerID, itemID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.cart[itemID]
	if !ok || item.BuyerID != buyerID {
		return false, nil
	}
	delete(m.cart, itemID)
	return true, nil
}

func (m *memStore) DeleteCartItemsByProducts(ctx context.Context, buyerID uuid.UUID, productIDs []uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, item := range m.cart {
		for _, pid := range productIDs {
			if item.BuyerID == buyerID && item.ProductID == pid {
				delete(m.cart, id)
				n++
				break
			}
		}
	}
	return n, nil
}

type fakeGateway struct {
	mu      sync.Mutex
	calls   int
	charged []int64
	err     error
}

func (g *fakeGateway) Confirm(ctx context.Context, req gateway.ConfirmRequest) (*gateway.Confirmation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls++
	g.charged = append(g.charged, req.Amount)
	if g.err != nil {
		return nil, g.err
	}
	return &gateway.Confirmation{
		PaymentKey:  req.PaymentKey,
		OrderID:     req.OrderID,
		Status:      models.PaymentStatusDone,
		Method:      "CARD",
		TotalAmount: req.Amount,
		ApprovedAt:  time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
	}, nil
}

func (g *fakeGateway) chargedAmounts() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int64(nil), g.charged...)
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *fakePublisher) record(eventType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

func (p *fakePublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, e := range p.events {
		if e == eventType {
			n++
		}
	}
	return n
}

func (p *fakePublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return p.record(event.EventType)
}

func (p *fakePublisher) PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	return p.record(event.EventType)
}

func (p *fakePublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return p.record(event.EventType)
}

func (p *fakePublisher) PublishSettlementCreated(ctx context.Context, event *models.SettlementCreatedEvent) error {
	return p.record(event.EventType)
}

var errStoreDown = errors.New("connection refused")

// friday is the clock used by ledger tests.
var friday = time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)

func newTestCalculator() *settlement.Calculator {
	calc, err := settlement.NewCalculator(decimal.RequireFromString("0.05"), 7)
	if err != nil {
		panic(err)
	}
	return calc.WithClock(func() time.Time { return friday })
}

// testEnv wires every service on one memStore.
type testEnv struct {
	store     *memStore
	gateway   *fakeGateway
	publisher *fakePublisher
	inventory *InventoryAdjuster
	checkout  *CheckoutService
	ledger    *LedgerService
	saga      *CheckoutSaga
	cart      *CartService
	orders    *OrderService
	payments  *PaymentService
}

func newTestEnv(locker Locker) *testEnv {
	env := &testEnv{
		store:     newMemStore(),
		gateway:   &fakeGateway{},
		publisher: &fakePublisher{},
	}

	inventory, err := NewInventoryAdjuster(env.store, InventoryModeAuto)
	if err != nil {
		panic(err)
	}
	env.inventory = inventory
	env.checkout = NewCheckoutService(env.store)
	env.ledger = NewLedgerService(env.store, newTestCalculator(), env.publisher)
	env.saga = NewCheckoutSaga(env.store, env.inventory, env.ledger)
	env.cart = NewCartService(env.store, env.store)
	env.orders = NewOrderService(env.store, env.inventory, env.ledger, env.publisher)
	env.payments = NewPaymentService(env.store, env.checkout, env.gateway, env.saga, locker, env.cart, env.publisher, 30*time.Second)
	return env
}
