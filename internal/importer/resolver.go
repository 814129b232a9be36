package importer

import (
	"context"
	"fmt"

	"github.com/yutaoyuan/crm-system-sub000/internal/crm"
)

// CustomerIndex loads the full phone to customer map.
type CustomerIndex interface {
	LoadCustomerIndex(ctx context.Context) (map[string]crm.CustomerRef, error)
}

// Resolver answers phone lookups for one import job from an in-memory index loaded once
// by Preload. It is owned by the job goroutine and is not safe for concurrent use.
type Resolver struct {
	source  CustomerIndex
	byPhone map[string]crm.CustomerRef
}

func NewResolver(source CustomerIndex) *Resolver {
	return &Resolver{source: source, byPhone: map[string]crm.CustomerRef{}}
}

func (r *Resolver) Preload(ctx context.Context) error {
	index, err := r.source.LoadCustomerIndex(ctx)
	if err != nil {
		return fmt.Errorf("preload customers: %w", err)
	}
	r.byPhone = make(map[string]crm.CustomerRef, len(index))
	for phone, ref := range index {
		if normalized := crm.NormalizePhone(phone); normalized != "" {
			r.byPhone[normalized] = ref
		}
	}
	return nil
}

func (r *Resolver) Resolve(phone string) (crm.CustomerRef, bool) {
	if phone == "" {
		return crm.CustomerRef{}, false
	}
	ref, ok := r.byPhone[phone]
	return ref, ok
}

// Register adds a customer created during the job so later rows reuse it.
func (r *Resolver) Register(phone string, ref crm.CustomerRef) {
	if phone != "" {
		r.byPhone[phone] = ref
	}
}

// Forget drops phones whose customers were created in a rolled back batch.
func (r *Resolver) Forget(phones ...string) {
	for _, phone := range phones {
		delete(r.byPhone, phone)
	}
}

// Annotate links rec to its customer. A miss leaves rec as an orphan.
func (r *Resolver) Annotate(rec *Record) bool {
	ref, ok := r.Resolve(rec.Phone)
	if !ok {
		return false
	}
	rec.link(ref)
	return true
}

func (r *Resolver) Len() int { return len(r.byPhone) }
