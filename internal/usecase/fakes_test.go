package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/fx"
	"settlement-service/internal/provider"
	"settlement-service/pkg/events"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ============================================
// WALLETS
// ============================================

type fakeWallets struct {
	mu      sync.Mutex
	seq     int
	wallets map[string]*domain.Wallet
	byUser  map[string]string
	txs     []*domain.WalletTransaction
	keys    map[string]*domain.WalletTransaction
	usage   []*domain.UsageEntry
	mutates int
}

func newFakeWallets() *fakeWallets {
	return &fakeWallets{
		wallets: map[string]*domain.Wallet{},
		byUser:  map[string]string{},
		keys:    map[string]*domain.WalletTransaction{},
	}
}

func (f *fakeWallets) seed(userID, currency string, balance decimal.Decimal) *domain.Wallet {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	w := &domain.Wallet{ID: fmt.Sprintf("wal_%d", f.seq), UserID: userID, Balance: balance, Currency: currency}
	f.wallets[w.ID] = w
	f.byUser[userID] = w.ID
	return w
}

func (f *fakeWallets) balance(walletID string) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wallets[walletID].Balance
}

func (f *fakeWallets) walletTxs(walletID string) []*domain.WalletTransaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.WalletTransaction
	for _, tx := range f.txs {
		if tx.WalletID == walletID {
			out = append(out, tx)
		}
	}
	return out
}

func (f *fakeWallets) GetOrCreate(_ context.Context, userID, currency string) (*domain.Wallet, error) {
	f.mu.Lock()
	if id, ok := f.byUser[userID]; ok {
		w := *f.wallets[id]
		f.mu.Unlock()
		return &w, nil
	}
	f.mu.Unlock()
	w := f.seed(userID, currency, decimal.Zero)
	cp := *w
	return &cp, nil
}

func (f *fakeWallets) GetByID(_ context.Context, walletID string) (*domain.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[walletID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (f *fakeWallets) GetByUserID(ctx context.Context, userID string) (*domain.Wallet, error) {
	f.mu.Lock()
	id, ok := f.byUser[userID]
	f.mu.Unlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return f.GetByID(ctx, id)
}

func (f *fakeWallets) List(_ context.Context, filter domain.WalletFilter) ([]*domain.Wallet, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Wallet
	for _, w := range f.wallets {
		if filter.UserID != "" && w.UserID != filter.UserID {
			continue
		}
		if filter.MinBalance != nil && w.Balance.LessThan(*filter.MinBalance) {
			continue
		}
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

// Mutate holds the fake's mutex for the whole read-modify-write, like the row lock.
func (f *fakeWallets) Mutate(_ context.Context, m *domain.Mutation) (*domain.WalletTransaction, bool, error) {
	if err := m.Validate(); err != nil {
		return nil, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutates++

	w, ok := f.wallets[m.WalletID]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	if m.IdempotencyKey != "" {
		if tx, ok := f.keys[m.IdempotencyKey]; ok {
			return tx, true, nil
		}
	}
	after, err := m.Apply(w.Balance, w.Currency)
	if err != nil {
		return nil, false, err
	}

	tx := &domain.WalletTransaction{
		ID:            fmt.Sprintf("wtx_%d", len(f.txs)+1),
		WalletID:      w.ID,
		Type:          m.Type,
		Direction:     m.Direction,
		Amount:        m.Amount,
		Currency:      w.Currency,
		BalanceBefore: w.Balance,
		BalanceAfter:  after,
		Status:        domain.TxStatusCompleted,
		Description:   m.Description,
		Metadata:      m.Metadata,
		CreatedAt:     time.Now(),
	}
	if m.PaymentTransactionID != "" {
		tx.PaymentTransactionID = &m.PaymentTransactionID
	}
	if m.RefundID != "" {
		tx.RefundID = &m.RefundID
	}
	if m.Usage != nil {
		m.Usage.WalletID = w.ID
		m.Usage.AmountDeducted = m.Amount
		m.Usage.BalanceBefore = w.Balance
		m.Usage.BalanceAfter = after
		f.usage = append(f.usage, m.Usage)
		tx.UsageLedgerID = &m.Usage.ID
	}
	if m.IdempotencyKey != "" {
		key := m.IdempotencyKey
		tx.IdempotencyKey = &key
		f.keys[key] = tx
	}
	f.txs = append(f.txs, tx)
	w.Balance = after
	return tx, false, nil
}

func (f *fakeWallets) Transactions(_ context.Context, filter domain.TransactionFilter) ([]*domain.WalletTransaction, int64, error) {
	var out []*domain.WalletTransaction
	for _, tx := range f.walletTxs(filter.WalletID) {
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		out = append(out, tx)
	}
	return out, int64(len(out)), nil
}

type fakeUsage struct {
	wallets *fakeWallets
}

func (f *fakeUsage) List(_ context.Context, filter domain.UsageFilter) ([]*domain.UsageEntry, int64, decimal.Decimal, error) {
	f.wallets.mu.Lock()
	defer f.wallets.mu.Unlock()
	var out []*domain.UsageEntry
	spent := decimal.Zero
	for _, u := range f.wallets.usage {
		if u.WalletID != filter.WalletID {
			continue
		}
		if filter.ActionCode != "" && u.ActionCode != filter.ActionCode {
			continue
		}
		out = append(out, u)
		spent = spent.Add(u.AmountDeducted)
	}
	return out, int64(len(out)), spent, nil
}

// ============================================
// PAYMENTS AND REFUNDS
// ============================================

type fakePayments struct {
	mu   sync.Mutex
	rows map[string]*domain.PaymentTransaction
}

func newFakePayments() *fakePayments {
	return &fakePayments{rows: map[string]*domain.PaymentTransaction{}}
}

func clonePayment(p *domain.PaymentTransaction) *domain.PaymentTransaction {
	cp := *p
	cp.GatewayResponse = merge(nil, p.GatewayResponse)
	cp.Metadata = merge(nil, p.Metadata)
	return &cp
}

func (f *fakePayments) Create(_ context.Context, p *domain.PaymentTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[p.ID] = clonePayment(p)
	return nil
}

func (f *fakePayments) GetByID(_ context.Context, id string) (*domain.PaymentTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return clonePayment(p), nil
}

func (f *fakePayments) find(match func(*domain.PaymentTransaction) bool) (*domain.PaymentTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.rows {
		if match(p) {
			return clonePayment(p), nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}

func (f *fakePayments) GetByProviderPaymentID(_ context.Context, kind domain.ProviderKind, id string) (*domain.PaymentTransaction, error) {
	return f.find(func(p *domain.PaymentTransaction) bool {
		return p.Provider == kind && p.ProviderPaymentID == id
	})
}

func (f *fakePayments) GetByProviderTransactionID(_ context.Context, kind domain.ProviderKind, id string) (*domain.PaymentTransaction, error) {
	return f.find(func(p *domain.PaymentTransaction) bool {
		return p.Provider == kind && p.ProviderTransactionID != nil && *p.ProviderTransactionID == id
	})
}

func (f *fakePayments) FindByGatewayReference(_ context.Context, kind domain.ProviderKind, ref string) (*domain.PaymentTransaction, error) {
	return f.find(func(p *domain.PaymentTransaction) bool {
		if p.Provider != kind || (p.Status != domain.PaymentCompleted && p.Status != domain.PaymentRefunded) {
			return false
		}
		raw, _ := json.Marshal(p.GatewayResponse)
		return strings.Contains(string(raw), `"`+ref+`"`)
	})
}

func (f *fakePayments) Update(_ context.Context, id string, upd *domain.PaymentUpdate) (*domain.PaymentTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	if upd.Status != "" {
		p.Status = upd.Status
	}
	if upd.ProviderPaymentID != nil {
		p.ProviderPaymentID = *upd.ProviderPaymentID
	}
	if upd.ProviderTransactionID != nil {
		p.ProviderTransactionID = upd.ProviderTransactionID
	}
	if upd.FailureReason != nil {
		p.FailureReason = upd.FailureReason
	}
	if upd.GatewayResponse != nil {
		p.GatewayResponse = merge(p.GatewayResponse, upd.GatewayResponse)
	}
	if upd.Metadata != nil {
		p.Metadata = merge(p.Metadata, upd.Metadata)
	}
	return clonePayment(p), nil
}

func (f *fakePayments) ListByWallet(_ context.Context, walletID string, _, _ int) ([]*domain.PaymentTransaction, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.PaymentTransaction
	for _, p := range f.rows {
		if p.WalletID == walletID {
			out = append(out, clonePayment(p))
		}
	}
	return out, int64(len(out)), nil
}

type fakeRefunds struct {
	mu   sync.Mutex
	rows map[string]*domain.Refund
}

func newFakeRefunds() *fakeRefunds {
	return &fakeRefunds{rows: map[string]*domain.Refund{}}
}

func cloneRefund(r *domain.Refund) *domain.Refund {
	cp := *r
	return &cp
}

func (f *fakeRefunds) Create(_ context.Context, r *domain.Refund) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.rows {
		if r.Status.Open() && existing.Status.Open() && existing.PaymentTransactionID == r.PaymentTransactionID {
			return domain.ErrDuplicateRefund
		}
		if r.ProviderRefundID != nil && existing.ProviderRefundID != nil &&
			existing.Provider == r.Provider && *existing.ProviderRefundID == *r.ProviderRefundID {
			return domain.ErrDuplicateRefund
		}
	}
	f.rows[r.ID] = cloneRefund(r)
	return nil
}

func (f *fakeRefunds) GetByID(_ context.Context, id string) (*domain.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRefund(r), nil
}

func (f *fakeRefunds) GetByProviderRefundID(_ context.Context, kind domain.ProviderKind, id string) (*domain.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.Provider == kind && r.ProviderRefundID != nil && *r.ProviderRefundID == id {
			return cloneRefund(r), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeRefunds) FindOpen(_ context.Context, paymentTxID string) (*domain.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.PaymentTransactionID == paymentTxID && r.Status.Open() {
			return cloneRefund(r), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeRefunds) SumProcessed(_ context.Context, paymentTxID string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum := decimal.Zero
	for _, r := range f.rows {
		if r.PaymentTransactionID == paymentTxID && r.Status == domain.RefundProcessed {
			sum = sum.Add(r.Amount)
		}
	}
	return sum, nil
}

func (f *fakeRefunds) Update(_ context.Context, id string, upd *domain.RefundUpdate) (*domain.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if upd.Status != "" {
		r.Status = upd.Status
	}
	if upd.AdminNotes != nil {
		r.AdminNotes = upd.AdminNotes
	}
	if upd.ProcessedBy != nil {
		r.ProcessedBy = upd.ProcessedBy
	}
	if upd.ProviderRefundID != nil {
		r.ProviderRefundID = upd.ProviderRefundID
	}
	if upd.FailureReason != nil {
		r.FailureReason = upd.FailureReason
	}
	if upd.Metadata != nil {
		r.Metadata = merge(r.Metadata, upd.Metadata)
	}
	return cloneRefund(r), nil
}

func (f *fakeRefunds) List(_ context.Context, filter domain.RefundFilter) ([]*domain.Refund, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Refund
	for _, r := range f.rows {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.PaymentTransactionID != "" && r.PaymentTransactionID != filter.PaymentTransactionID {
			continue
		}
		out = append(out, cloneRefund(r))
	}
	return out, int64(len(out)), nil
}

func (f *fakeRefunds) Statistics(_ context.Context, _ domain.RefundFilter) (*domain.RefundStatistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &domain.RefundStatistics{ByStatus: map[domain.RefundStatus]int64{}, TotalAmount: decimal.Zero}
	for _, r := range f.rows {
		stats.TotalRefunds++
		stats.TotalAmount = stats.TotalAmount.Add(r.Amount)
		stats.ByStatus[r.Status]++
	}
	return stats, nil
}

// all returns every refund for a payment.
func (f *fakeRefunds) all(paymentTxID string) []*domain.Refund {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Refund
	for _, r := range f.rows {
		if r.PaymentTransactionID == paymentTxID {
			out = append(out, cloneRefund(r))
		}
	}
	return out
}

// ============================================
// CATALOG AND CHARGES
// ============================================

type fakeCatalog struct {
	mu      sync.Mutex
	actions map[string]*domain.BillableAction
}

func newFakeCatalog(actions ...*domain.BillableAction) *fakeCatalog {
	f := &fakeCatalog{actions: map[string]*domain.BillableAction{}}
	for _, a := range actions {
		f.actions[a.ID] = a
	}
	return f
}

func (f *fakeCatalog) Create(_ context.Context, a *domain.BillableAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.actions {
		if existing.ActionCode == a.ActionCode {
			return domain.ErrDuplicateActionCode
		}
	}
	cp := *a
	f.actions[a.ID] = &cp
	return nil
}

func (f *fakeCatalog) GetByID(_ context.Context, id string) (*domain.BillableAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.actions[id]
	if !ok {
		return nil, domain.ErrActionNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeCatalog) GetByCode(_ context.Context, code string) (*domain.BillableAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.actions {
		if a.ActionCode == code {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrActionNotFound
}

func (f *fakeCatalog) List(_ context.Context, filter domain.ActionFilter) ([]*domain.BillableAction, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.BillableAction
	for _, a := range f.actions {
		if filter.Category != "" && a.Category != filter.Category {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, int64(len(out)), nil
}

func (f *fakeCatalog) Update(_ context.Context, id string, upd *domain.BillableActionUpdate) (*domain.BillableAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.actions[id]
	if !ok {
		return nil, domain.ErrActionNotFound
	}
	if upd.ActionName != nil {
		a.ActionName = *upd.ActionName
	}
	if upd.Cost != nil {
		a.Cost = *upd.Cost
	}
	if upd.Currency != nil {
		a.Currency = *upd.Currency
	}
	if upd.IsActive != nil {
		a.IsActive = *upd.IsActive
	}
	cp := *a
	return &cp, nil
}

func (f *fakeCatalog) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.actions[id]; !ok {
		return domain.ErrActionNotFound
	}
	delete(f.actions, id)
	return nil
}

type fakeCharges struct {
	mu   sync.Mutex
	rows map[string]*domain.UsageCharge
}

func newFakeCharges() *fakeCharges {
	return &fakeCharges{rows: map[string]*domain.UsageCharge{}}
}

func chargeKey(c *domain.UsageCharge) string {
	return c.UserID + "|" + c.ActionCode + "|" + c.RequestID
}

func (f *fakeCharges) Enqueue(_ context.Context, c *domain.UsageCharge) (*domain.UsageCharge, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.rows[chargeKey(c)]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *c
	f.rows[chargeKey(c)] = &cp
	out := cp
	return &out, true, nil
}

func (f *fakeCharges) ClaimDue(_ context.Context, now time.Time, limit int, lease time.Duration) ([]*domain.UsageCharge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.UsageCharge
	for _, c := range f.rows {
		if len(out) == limit {
			break
		}
		if c.Status != domain.ChargeQueued || c.NextAttemptAt.After(now) {
			continue
		}
		c.Attempts++
		c.NextAttemptAt = now.Add(lease)
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeCharges) byID(id string) *domain.UsageCharge {
	for _, c := range f.rows {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (f *fakeCharges) MarkCompleted(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c := f.byID(id); c != nil {
		c.Status = domain.ChargeCompleted
		c.LastError = nil
	}
	return nil
}

func (f *fakeCharges) MarkFailed(_ context.Context, id, lastError string, next time.Time, dead bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c := f.byID(id); c != nil {
		c.LastError = &lastError
		c.NextAttemptAt = next
		if dead {
			c.Status = domain.ChargeDead
		}
	}
	return nil
}

func (f *fakeCharges) Get(_ context.Context, id string) (*domain.UsageCharge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c := f.byID(id); c != nil {
		cp := *c
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeCharges) ListDead(_ context.Context, _ int) ([]*domain.UsageCharge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.UsageCharge
	for _, c := range f.rows {
		if c.Status == domain.ChargeDead {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ============================================
// COLLABORATORS
// ============================================

// fixedRates converts with a fixed table and fails for unknown pairs.
type fixedRates map[string]decimal.Decimal

func (r fixedRates) Quote(_ context.Context, amount decimal.Decimal, from, to string) (*fx.Quote, error) {
	if from == to {
		return &fx.Quote{From: from, To: to, Rate: decimal.NewFromInt(1), Amount: amount, Converted: amount, Source: fx.SourceIdentity}, nil
	}
	rate, ok := r[from+"/"+to]
	if !ok {
		return nil, domain.ErrRateUnavailable
	}
	return &fx.Quote{From: from, To: to, Rate: rate, Amount: amount, Converted: fx.Round(amount.Mul(rate), to), Source: fx.SourceFallback}, nil
}

func defaultRates() fixedRates {
	return fixedRates{
		"USD/VND": dec("25000"),
		"VND/USD": dec("0.00004"),
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) ofType(t events.Type) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type recordingNotifier struct {
	mu       sync.Mutex
	balances []decimal.Decimal
	payments []domain.PaymentStatus
}

func (n *recordingNotifier) NotifyBalance(_ string, wallet *domain.Wallet, _ *domain.WalletTransaction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balances = append(n.balances, wallet.Balance)
}

func (n *recordingNotifier) NotifyPayment(_ string, payment *domain.PaymentTransaction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payments = append(n.payments, payment.Status)
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	seen []string
}

func (l *fakeLocker) AcquireLock(_ context.Context, name, _ string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	l.seen = append(l.seen, name)
	if l.held[name] {
		return nil, false, nil
	}
	l.held[name] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, name)
	}, true, nil
}

// ============================================
// PROVIDER
// ============================================

type fakeProvider struct {
	mu         sync.Mutex
	kind       domain.ProviderKind
	pinned     string
	currencies []string
	methods    []domain.PaymentMethod

	createErr     error
	confirmResult *provider.PaymentResult
	confirmErr    error
	status        domain.PaymentStatus
	statusErr     error
	refundResult  *provider.RefundResult
	refundErr     error
	event         *domain.WebhookEvent
	eventErr      error

	createCalls  int
	confirmCalls int
	refundCalls  int
	lastIntent   *provider.IntentRequest
	lastRefund   *provider.RefundRequest
}

func newFakeStripe() *fakeProvider {
	return &fakeProvider{
		kind:       domain.ProviderStripe,
		currencies: []string{"USD", "EUR"},
		methods:    []domain.PaymentMethod{domain.MethodCard},
	}
}

func newFakeMoMo() *fakeProvider {
	return &fakeProvider{
		kind:       domain.ProviderMoMo,
		pinned:     "VND",
		currencies: []string{"VND"},
		methods:    []domain.PaymentMethod{domain.MethodEWallet, domain.MethodQRCode},
	}
}

func (p *fakeProvider) Kind() domain.ProviderKind                { return p.kind }
func (p *fakeProvider) Name() string                             { return strings.ToUpper(string(p.kind)) }
func (p *fakeProvider) SupportedMethods() []domain.PaymentMethod { return p.methods }
func (p *fakeProvider) SupportedCurrencies() []string            { return p.currencies }
func (p *fakeProvider) SupportedRegions() []string               { return nil }
func (p *fakeProvider) PinnedCurrency() string                   { return p.pinned }

func (p *fakeProvider) CreatePaymentIntent(_ context.Context, req *provider.IntentRequest) (*provider.IntentResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createCalls++
	p.lastIntent = req
	if p.createErr != nil {
		return nil, p.createErr
	}
	return &provider.IntentResult{
		PaymentID:   "gw_" + req.Reference,
		RedirectURL: "https://gateway.test/pay/" + req.Reference,
		Raw:         map[string]interface{}{"id": "gw_" + req.Reference},
	}, nil
}

func (p *fakeProvider) ConfirmPayment(_ context.Context, _ string, _ map[string]string) (*provider.PaymentResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmCalls++
	if p.confirmErr != nil {
		return nil, p.confirmErr
	}
	return p.confirmResult, nil
}

func (p *fakeProvider) GetPaymentStatus(_ context.Context, _ string) (domain.PaymentStatus, error) {
	return p.status, p.statusErr
}

func (p *fakeProvider) VerifyWebhookSignature(_ context.Context, _ *provider.WebhookRequest) bool {
	return p.eventErr == nil
}

func (p *fakeProvider) HandleWebhook(_ context.Context, _ *provider.WebhookRequest) (*domain.WebhookEvent, error) {
	if p.eventErr != nil {
		return nil, p.eventErr
	}
	return p.event, nil
}

func (p *fakeProvider) RefundPayment(_ context.Context, req *provider.RefundRequest) (*provider.RefundResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refundCalls++
	p.lastRefund = req
	if p.refundErr != nil {
		return nil, p.refundErr
	}
	return p.refundResult, nil
}
