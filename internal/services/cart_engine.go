package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	domain "github.com/campaignkit/checkout/internal/domain"
	"github.com/campaignkit/checkout/internal/platform/storage"
	"github.com/campaignkit/checkout/internal/state"
)

var (
	// ErrInvalidItem indicates an AddToCart input missing required fields.
	ErrInvalidItem = errors.New("cart engine: invalid item")
	// ErrItemNotFound indicates the line id is not in the cart.
	ErrItemNotFound = errors.New("cart engine: item not found")
	// ErrInvalidCoupon indicates an empty or malformed coupon code.
	ErrInvalidCoupon = errors.New("cart engine: invalid coupon")
	// ErrUnknownShippingMethod indicates the method is not offered by the
	// campaign.
	ErrUnknownShippingMethod = errors.New("cart engine: unknown shipping method")
)

// Store paths owned by the engine.
const (
	pathCart         = "cart"
	pathCartItems    = "cart.items"
	pathCartTotals   = "cart.totals"
	pathCartShipping = "cart.shippingMethod"
	pathCartCoupon   = "cart.couponCode"
	pathCartAttr     = "cart.attribution"
	pathUser         = "user"
	pathUIError      = "ui.error"

	defaultSyncDelay = 500 * time.Millisecond
)

// EngineDeps wires the cart engine's collaborators.
type EngineDeps struct {
	API       CommerceAPI
	Bus       EventEmitter
	Snapshots storage.SnapshotStore
	// Campaign provides the catalog used to authorise prices and the
	// currency totals are reported in.
	Campaign domain.Campaign
	// PackageIDFallback resolves lines whose item carries no package id.
	PackageIDFallback int
	Clock             func() time.Time
	Logger            func(ctx context.Context, event string, fields map[string]any)
	// SyncDelay is the ScheduleSync debounce window.
	SyncDelay time.Duration
}

// Engine is the authoritative cart store. All mutations go through it; reads
// of cart totals are recomputed from the items on demand and never trusted
// from persistence.
type Engine struct {
	store     *state.Store
	api       CommerceAPI
	bus       EventEmitter
	snapshots storage.SnapshotStore
	campaign  domain.Campaign
	byRef     map[int]domain.Package
	byExt     map[int]domain.Package
	fallback  int
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)

	mu        sync.Mutex
	syncDelay time.Duration
	syncTimer *time.Timer
}

type cartSnapshot struct {
	Cart    domain.CartState   `json:"cart"`
	User    domain.UserProfile `json:"user"`
	SavedAt time.Time          `json:"saved_at"`
}

// NewEngine constructs the engine and rehydrates any persisted session cart.
func NewEngine(ctx context.Context, deps EngineDeps) (*Engine, error) {
	if deps.API == nil {
		return nil, errors.New("cart engine: commerce api is required")
	}
	snapshots := deps.Snapshots
	if snapshots == nil {
		snapshots = storage.NewMemoryStore()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	delay := deps.SyncDelay
	if delay <= 0 {
		delay = defaultSyncDelay
	}

	engine := &Engine{
		api:       deps.API,
		bus:       deps.Bus,
		snapshots: snapshots,
		campaign:  deps.Campaign,
		byRef:     map[int]domain.Package{},
		byExt:     map[int]domain.Package{},
		fallback:  deps.PackageIDFallback,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
		syncDelay: delay,
	}
	engine.store = state.NewStore(func(event string, fields map[string]any) {
		logger(context.Background(), event, fields)
	})
	for _, pkg := range deps.Campaign.Packages {
		engine.byRef[pkg.RefID] = pkg
		if pkg.ExternalID != 0 {
			engine.byExt[pkg.ExternalID] = pkg
		}
	}

	engine.rehydrate(ctx)
	engine.refreshTotals()
	return engine, nil
}

// GetState reads the dotted path. Reads of the cart subtree refresh totals
// first so derived values can never go stale.
func (e *Engine) GetState(path string) (any, bool) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed == state.Wildcard ||
		trimmed == pathCart || strings.HasPrefix(trimmed, pathCartTotals) {
		e.refreshTotals()
	}
	return e.store.Get(path)
}

// SetState writes an arbitrary dotted path. Writes under the cart subtree
// recompute totals before the notifying write, so subscribers on cart observe
// the new items together with fresh totals; writes under user persist the
// profile.
func (e *Engine) SetState(path string, value any, notify bool) {
	trimmed := strings.TrimSpace(path)
	if strings.HasPrefix(trimmed, pathCart) && trimmed != pathCartTotals {
		e.refreshTotalsFor(trimmed, value)
	}
	e.store.Set(path, value, notify)
	if strings.HasPrefix(trimmed, pathCart) || strings.HasPrefix(trimmed, pathUser) {
		e.persist(context.Background())
	}
}

// Subscribe registers a change callback; see state.Store.Subscribe for the
// invocation contract.
func (e *Engine) Subscribe(path string, fn func(value any)) func() {
	return e.store.Subscribe(path, fn)
}

// CurrentCart returns a copy of the typed cart state.
func (e *Engine) CurrentCart() domain.CartState {
	cart := domain.CartState{}
	if value, ok := e.store.Get(pathCartItems); ok {
		if items, ok := value.([]domain.CartItem); ok {
			cart.Items = append([]domain.CartItem(nil), items...)
		}
	}
	if value, ok := e.store.Get(pathCartShipping); ok {
		if method, ok := value.(domain.ShippingMethod); ok {
			cart.ShippingMethod = &method
		}
	}
	if value, ok := e.store.Get(pathCartCoupon); ok {
		if code, ok := value.(string); ok {
			cart.CouponCode = code
		}
	}
	if value, ok := e.store.Get(pathCartAttr); ok {
		if attr, ok := value.(domain.Attribution); ok {
			cart.Attribution = attr
		}
	}
	return cart
}

// CurrentUser returns the profile collected so far.
func (e *Engine) CurrentUser() domain.UserProfile {
	user := domain.UserProfile{}
	user.Email = e.userField("email")
	user.FirstName = e.userField("firstName")
	user.LastName = e.userField("lastName")
	user.Phone = e.userField("phone")
	return user
}

func (e *Engine) userField(key string) string {
	value, ok := e.store.Get(pathUser + "." + key)
	if !ok {
		return ""
	}
	text, _ := value.(string)
	return text
}

// SetUser stores the profile fields under the user subtree.
func (e *Engine) SetUser(ctx context.Context, user domain.UserProfile) {
	e.store.Set(pathUser+".email", strings.TrimSpace(user.Email), true)
	e.store.Set(pathUser+".firstName", strings.TrimSpace(user.FirstName), true)
	e.store.Set(pathUser+".lastName", strings.TrimSpace(user.LastName), true)
	e.store.Set(pathUser+".phone", strings.TrimSpace(user.Phone), true)
	e.persist(ctx)
}

// Totals recomputes and returns the derived totals.
func (e *Engine) Totals() domain.CartTotals {
	return e.refreshTotals()
}

// SetAttribution attaches marketing metadata to the cart and persists it to
// the long-lived attribution slot.
func (e *Engine) SetAttribution(ctx context.Context, attr domain.Attribution) {
	e.store.Set(pathCartAttr, attr, true)
	e.persist(ctx)
	if data, err := json.Marshal(attr); err == nil {
		if err := e.snapshots.Write(ctx, storage.SlotAttribution, data); err != nil {
			e.logger(ctx, "cart.attribution_persist_failed", map[string]any{"error": err.Error()})
		}
	}
}

// AddToCart validates the item against the campaign catalog and appends it,
// merging quantities when the same id is already present.
func (e *Engine) AddToCart(ctx context.Context, item domain.CartItem) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	item.ID = strings.TrimSpace(item.ID)
	if item.ID == "" && item.PackageID != 0 {
		item.ID = strconv.Itoa(item.PackageID)
	}
	if pkg, ok := e.lookupPackage(item); ok {
		applyPackage(&item, pkg)
	}
	if item.Quantity <= 0 {
		item.Quantity = 1
	}

	var missing []string
	if item.ID == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(item.Name) == "" {
		missing = append(missing, "name")
	}
	if item.Price <= 0 && item.PriceTotal == nil {
		missing = append(missing, "price")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidItem, strings.Join(missing, ", "))
	}

	items := e.items()
	merged := false
	for i := range items {
		if items[i].ID != item.ID {
			continue
		}
		previous := items[i].Quantity
		items[i].Quantity += item.Quantity
		if items[i].PriceTotal != nil && previous > 0 {
			scaled := *items[i].PriceTotal / int64(previous) * int64(items[i].Quantity)
			items[i].PriceTotal = &scaled
		}
		merged = true
		break
	}
	if !merged {
		items = append(items, item)
	}

	e.writeItems(ctx, items)
	return nil
}

// UpdateCartItem applies a partial update to the named line. A quantity of
// zero or below removes the line.
func (e *Engine) UpdateCartItem(ctx context.Context, id string, updates UpdateCartItem) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	items := e.items()
	index := -1
	for i := range items {
		if items[i].ID == id {
			index = i
			break
		}
	}
	if index < 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}

	if updates.Quantity != nil && *updates.Quantity <= 0 {
		items = append(items[:index], items[index+1:]...)
		e.writeItems(ctx, items)
		return nil
	}
	line := &items[index]
	if updates.Quantity != nil {
		previous := line.Quantity
		line.Quantity = *updates.Quantity
		if line.PriceTotal != nil && previous > 0 {
			scaled := *line.PriceTotal / int64(previous) * int64(line.Quantity)
			line.PriceTotal = &scaled
		}
	}
	if updates.Price != nil {
		line.Price = *updates.Price
		line.PriceTotal = nil
	}
	if updates.Name != nil {
		line.Name = strings.TrimSpace(*updates.Name)
	}

	e.writeItems(ctx, items)
	return nil
}

// RemoveFromCart deletes the named line.
func (e *Engine) RemoveFromCart(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	items := e.items()
	for i := range items {
		if items[i].ID == id {
			e.writeItems(ctx, append(items[:i], items[i+1:]...))
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrItemNotFound, id)
}

// ClearCart empties the items, keeping shipping selection and attribution.
func (e *Engine) ClearCart(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writeItems(ctx, nil)
	return nil
}

// SetShippingMethod selects a delivery option. When the campaign carries
// methods the selection must match one of them by ref id.
func (e *Engine) SetShippingMethod(ctx context.Context, method domain.ShippingMethod) error {
	if len(e.campaign.ShippingMethods) > 0 {
		matched := false
		for _, offered := range e.campaign.ShippingMethods {
			if offered.RefID == method.RefID {
				method = offered
				matched = true
				break
			}
		}
		if !matched {
			return fmt.Errorf("%w: ref %d", ErrUnknownShippingMethod, method.RefID)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.refreshTotalsFor(pathCartShipping, method)
	e.store.Set(pathCartShipping, method, true)
	e.persist(ctx)
	e.emitCartUpdated(ctx)
	return nil
}

// ApplyCoupon records the voucher code forwarded on order creation.
func (e *Engine) ApplyCoupon(ctx context.Context, code string) error {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return fmt.Errorf("%w: empty code", ErrInvalidCoupon)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.Set(pathCartCoupon, trimmed, true)
	e.persist(ctx)
	e.emitCartUpdated(ctx)
	return nil
}

// RemoveCoupon clears any applied voucher code.
func (e *Engine) RemoveCoupon(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.Delete(pathCartCoupon, true)
	e.persist(ctx)
	e.emitCartUpdated(ctx)
	return nil
}

// SyncCartWithAPI pushes the current cart as a prospect cart. Failures are
// recorded in the ui.error slot and returned; the local cart is untouched.
func (e *Engine) SyncCartWithAPI(ctx context.Context) error {
	cart := e.CurrentCart()
	lines, err := resolveLines(cart.Items, e.fallback)
	if err != nil {
		return err
	}
	payload := domain.CartPayload{
		User:        e.CurrentUser(),
		Lines:       lines,
		Attribution: cart.Attribution,
	}

	prospect, err := e.api.CreateCart(ctx, payload)
	if err != nil {
		e.store.Set(pathUIError, "We could not save your cart. Please try again.", true)
		e.logger(ctx, "cart.sync_failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("cart engine: sync: %w", err)
	}

	e.store.Delete(pathUIError, true)
	if e.bus != nil {
		e.bus.Emit(ctx, "cart.synced", prospect)
	}
	return nil
}

// ScheduleSync debounces SyncCartWithAPI so rapid successive mutations
// collapse into a single prospect cart call.
func (e *Engine) ScheduleSync(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.syncTimer != nil {
		e.syncTimer.Stop()
	}
	detached := context.WithoutCancel(ctx)
	e.syncTimer = time.AfterFunc(e.syncDelay, func() {
		if err := e.SyncCartWithAPI(detached); err != nil {
			e.logger(detached, "cart.scheduled_sync_failed", map[string]any{"error": err.Error()})
		}
	})
}

// items returns a mutable copy of the current lines. Caller holds e.mu.
func (e *Engine) items() []domain.CartItem {
	value, ok := e.store.Get(pathCartItems)
	if !ok {
		return nil
	}
	items, ok := value.([]domain.CartItem)
	if !ok {
		return nil
	}
	return append([]domain.CartItem(nil), items...)
}

// writeItems commits a mutated line slice: totals first and silently, then
// the items with notification so subscribers observe a consistent cart.
// Caller holds e.mu.
func (e *Engine) writeItems(ctx context.Context, items []domain.CartItem) {
	if items == nil {
		items = []domain.CartItem{}
	}
	cart := e.CurrentCart()
	cart.Items = items
	totals := domain.ComputeTotals(cart, e.campaign.Currency)
	e.store.Set(pathCartTotals, totals, false)
	e.store.Set(pathCartItems, items, true)
	e.persist(ctx)
	e.emitCartUpdated(ctx)
}

func (e *Engine) refreshTotals() domain.CartTotals {
	totals := domain.ComputeTotals(e.CurrentCart(), e.campaign.Currency)
	e.store.Set(pathCartTotals, totals, false)
	return totals
}

// refreshTotalsFor recomputes totals with a not-yet-stored write applied, so
// the notifying write that follows carries fresh totals.
func (e *Engine) refreshTotalsFor(path string, value any) {
	cart := e.CurrentCart()
	switch path {
	case pathCartItems:
		if items, ok := value.([]domain.CartItem); ok {
			cart.Items = items
		}
	case pathCartShipping:
		if method, ok := value.(domain.ShippingMethod); ok {
			cart.ShippingMethod = &method
		}
	}
	e.store.Set(pathCartTotals, domain.ComputeTotals(cart, e.campaign.Currency), false)
}

func (e *Engine) emitCartUpdated(ctx context.Context) {
	if e.bus == nil {
		return
	}
	cart := e.CurrentCart()
	e.bus.Emit(ctx, "cart.updated", cart)
}

func (e *Engine) persist(ctx context.Context) {
	doc := cartSnapshot{
		Cart:    e.CurrentCart(),
		User:    e.CurrentUser(),
		SavedAt: e.now(),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		e.logger(ctx, "cart.snapshot_encode_failed", map[string]any{"error": err.Error()})
		return
	}
	if err := e.snapshots.Write(ctx, storage.SlotCartSnapshot, data); err != nil {
		e.logger(ctx, "cart.snapshot_persist_failed", map[string]any{"error": err.Error()})
	}
}

// rehydrate seeds the store from persisted slots without notifying; nothing
// is subscribed yet during construction.
func (e *Engine) rehydrate(ctx context.Context) {
	if data, err := e.snapshots.Read(ctx, storage.SlotCartSnapshot); err == nil {
		var doc cartSnapshot
		if err := json.Unmarshal(data, &doc); err != nil {
			e.logger(ctx, "cart.snapshot_decode_failed", map[string]any{"error": err.Error()})
		} else {
			if len(doc.Cart.Items) > 0 {
				e.store.Set(pathCartItems, doc.Cart.Items, false)
			}
			if doc.Cart.ShippingMethod != nil {
				e.store.Set(pathCartShipping, *doc.Cart.ShippingMethod, false)
			}
			if doc.Cart.CouponCode != "" {
				e.store.Set(pathCartCoupon, doc.Cart.CouponCode, false)
			}
			e.store.Set(pathCartAttr, doc.Cart.Attribution, false)
			e.store.Set(pathUser+".email", doc.User.Email, false)
			e.store.Set(pathUser+".firstName", doc.User.FirstName, false)
			e.store.Set(pathUser+".lastName", doc.User.LastName, false)
			e.store.Set(pathUser+".phone", doc.User.Phone, false)
		}
	} else if !errors.Is(err, storage.ErrSlotNotFound) {
		e.logger(ctx, "cart.snapshot_read_failed", map[string]any{"error": err.Error()})
	}

	if _, ok := e.store.Get(pathCartAttr); ok {
		return
	}
	if data, err := e.snapshots.Read(ctx, storage.SlotAttribution); err == nil {
		var attr domain.Attribution
		if err := json.Unmarshal(data, &attr); err == nil {
			e.store.Set(pathCartAttr, attr, false)
		}
	}
}

// lookupPackage resolves the campaign catalog entry for an item, if any.
func (e *Engine) lookupPackage(item domain.CartItem) (domain.Package, bool) {
	if item.PackageID != 0 {
		if pkg, ok := e.byRef[item.PackageID]; ok {
			return pkg, true
		}
	}
	if item.ExternalID != 0 {
		if pkg, ok := e.byExt[item.ExternalID]; ok {
			return pkg, true
		}
	}
	if ref, err := strconv.Atoi(item.ID); err == nil {
		if pkg, ok := e.byRef[ref]; ok {
			return pkg, true
		}
	}
	return domain.Package{}, false
}

// applyPackage overrides caller-supplied fields with catalog truth so page
// markup cannot change prices.
func applyPackage(item *domain.CartItem, pkg domain.Package) {
	item.Name = pkg.Name
	item.Price = pkg.Price
	item.PriceTotal = pkg.PriceTotal
	item.RetailPrice = pkg.RetailPrice
	item.PriceRecurring = pkg.PriceRecurring
	item.IsRecurring = pkg.IsRecurring
	item.Interval = pkg.Interval
	item.IntervalCount = pkg.IntervalCount
	item.PackageID = pkg.RefID
	if pkg.ExternalID != 0 {
		item.ExternalID = pkg.ExternalID
	}
	if item.Image == "" {
		item.Image = pkg.Image
	}
}
