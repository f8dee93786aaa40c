package queue

import (
	"context"
	"strconv"

	"qms/branch-queue/internal/models"
	"qms/branch-queue/internal/store"
)

// tellerRegistry is the only writer of teller state. It works inside the
// ledger's unit of work so teller and customer changes commit together.
type tellerRegistry struct {
	tx store.Tx
}

func (r tellerRegistry) lock(ctx context.Context, tellerID string) (models.Teller, error) {
	return r.tx.GetTeller(ctx, tellerID)
}

func (r tellerRegistry) markServing(ctx context.Context, teller *models.Teller) error {
	teller.Status = models.TellerServing
	return r.tx.UpdateTeller(ctx, *teller)
}

func (r tellerRegistry) markAvailable(ctx context.Context, teller *models.Teller) error {
	teller.Status = models.TellerAvailable
	return r.tx.UpdateTeller(ctx, *teller)
}

func (r tellerRegistry) incrementServed(ctx context.Context, teller *models.Teller) error {
	teller.CustomersServed++
	return r.tx.UpdateTeller(ctx, *teller)
}

// findAvailable picks, among available tellers able to serve serviceType,
// the one that has served the fewest customers; ties go to the lowest id.
func findAvailable(tellers []models.Teller, serviceType string) (models.Teller, bool) {
	var best models.Teller
	found := false
	for _, t := range tellers {
		if t.Status != models.TellerAvailable || !t.CanServe(serviceType) {
			continue
		}
		if !found || t.CustomersServed < best.CustomersServed ||
			(t.CustomersServed == best.CustomersServed && lessID(t.ID, best.ID)) {
			best = t
			found = true
		}
	}
	if !found {
		return models.Teller{}, false
	}
	return best.Clone(), true
}

// lessID orders numeric ids numerically and everything else lexically.
func lessID(a, b string) bool {
	ai, errA := strconv.Atoi(a)
	bi, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return ai < bi
	}
	return a < b
}
