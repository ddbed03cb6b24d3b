package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"settlement-service/internal/domain"
)

type Registry struct {
	mu        sync.RWMutex
	providers map[domain.ProviderKind]PaymentProvider
}

func NewRegistry(providers ...PaymentProvider) *Registry {
	r := &Registry{providers: make(map[domain.ProviderKind]PaymentProvider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p PaymentProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Kind()] = p
}

func (r *Registry) Get(kind domain.ProviderKind) (PaymentProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedProvider, kind)
	}
	return p, nil
}

// Lookup resolves a user-supplied provider code.
func (r *Registry) Lookup(code string) (PaymentProvider, error) {
	kind, err := domain.ParseProviderKind(code)
	if err != nil {
		return nil, err
	}
	return r.Get(kind)
}

// Available returns the registered providers ordered by kind.
func (r *Registry) Available() []PaymentProvider {
	return r.filter(func(PaymentProvider) bool { return true })
}

func (r *Registry) ByCurrency(currency string) []PaymentProvider {
	return r.filter(func(p PaymentProvider) bool { return supportsCurrency(p, currency) })
}

func (r *Registry) ByMethod(method domain.PaymentMethod) []PaymentProvider {
	return r.filter(func(p PaymentProvider) bool { return supportsMethod(p, method) })
}

func (r *Registry) ByRegion(region string) []PaymentProvider {
	return r.filter(func(p PaymentProvider) bool { return supportsRegion(p, region) })
}

// ByCriteria applies every non-empty criterion.
func (r *Registry) ByCriteria(currency string, method domain.PaymentMethod, region string) []PaymentProvider {
	return r.filter(func(p PaymentProvider) bool {
		if currency != "" && !supportsCurrency(p, currency) {
			return false
		}
		if method != "" && !supportsMethod(p, method) {
			return false
		}
		if region != "" && !supportsRegion(p, region) {
			return false
		}
		return true
	})
}

func (r *Registry) ValidateCurrency(kind domain.ProviderKind, currency string) error {
	p, err := r.Get(kind)
	if err != nil {
		return err
	}
	if !supportsCurrency(p, currency) {
		return fmt.Errorf("%w: %s does not support %s", domain.ErrUnsupportedCurrency, kind, currency)
	}
	return nil
}

func (r *Registry) ValidateMethod(kind domain.ProviderKind, method domain.PaymentMethod) error {
	p, err := r.Get(kind)
	if err != nil {
		return err
	}
	if !supportsMethod(p, method) {
		return fmt.Errorf("%w: %s does not support %s", domain.ErrUnsupportedMethod, kind, method)
	}
	return nil
}

func (r *Registry) ValidateRegion(kind domain.ProviderKind, region string) error {
	p, err := r.Get(kind)
	if err != nil {
		return err
	}
	if !supportsRegion(p, region) {
		return fmt.Errorf("%w: %s does not serve %s", domain.ErrUnsupportedRegion, kind, region)
	}
	return nil
}

func (r *Registry) filter(keep func(PaymentProvider) bool) []PaymentProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PaymentProvider, 0, len(r.providers))
	for _, p := range r.providers {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind() < out[j].Kind() })
	return out
}

func supportsCurrency(p PaymentProvider, currency string) bool {
	currency = strings.ToUpper(currency)
	for _, c := range p.SupportedCurrencies() {
		if c == currency {
			return true
		}
	}
	return false
}

func supportsMethod(p PaymentProvider, method domain.PaymentMethod) bool {
	for _, m := range p.SupportedMethods() {
		if m == method {
			return true
		}
	}
	return false
}

func supportsRegion(p PaymentProvider, region string) bool {
	regions := p.SupportedRegions()
	if regions == nil {
		return true
	}
	region = strings.ToUpper(region)
	for _, r := range regions {
		if r == region {
			return true
		}
	}
	return false
}

// Info is the public description of a provider.
type Info struct {
	Code        domain.ProviderKind    `json:"code"`
	Name        string                 `json:"name"`
	Methods     []domain.PaymentMethod `json:"methods"`
	Currencies  []string               `json:"currencies"`
	Regions     []string               `json:"regions,omitempty"`
	SettlesOnly string                 `json:"settlesOnly,omitempty"`
}

func Describe(providers []PaymentProvider) []Info {
	out := make([]Info, 0, len(providers))
	for _, p := range providers {
		out = append(out, Info{
			Code:        p.Kind(),
			Name:        p.Name(),
			Methods:     p.SupportedMethods(),
			Currencies:  p.SupportedCurrencies(),
			Regions:     p.SupportedRegions(),
			SettlesOnly: p.PinnedCurrency(),
		})
	}
	return out
}
