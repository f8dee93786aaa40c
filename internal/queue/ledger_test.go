package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"qms/branch-queue/internal/clock"
	"qms/branch-queue/internal/models"
	"qms/branch-queue/internal/store"
	"qms/branch-queue/internal/store/memory"
	"qms/branch-queue/internal/tokens"
)

var testStart = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T, opts Options) (*Ledger, *memory.Store, *clock.Manual) {
	t.Helper()
	st := memory.NewStore()
	if _, err := st.SeedTellers(context.Background(), models.DefaultRoster()); err != nil {
		t.Fatalf("seed tellers: %v", err)
	}
	clk := clock.NewManual(testStart)
	return NewLedger(st, clk, opts), st, clk
}

func checkIn(t *testing.T, l *Ledger, name, phone, serviceType string) models.Customer {
	t.Helper()
	c, err := l.CheckIn(context.Background(), CheckInInput{Name: name, PhoneNumber: phone, ServiceType: serviceType})
	if err != nil {
		t.Fatalf("check in %s: %v", name, err)
	}
	return c
}

func loadCustomer(t *testing.T, st store.Store, id string) models.Customer {
	t.Helper()
	var c models.Customer
	if err := st.InTx(context.Background(), func(tx store.Tx) error {
		var err error
		c, err = tx.GetCustomer(context.Background(), id)
		return err
	}); err != nil {
		t.Fatalf("load customer %s: %v", id, err)
	}
	return c
}

func loadTeller(t *testing.T, st store.Store, id string) models.Teller {
	t.Helper()
	var teller models.Teller
	if err := st.InTx(context.Background(), func(tx store.Tx) error {
		var err error
		teller, err = tx.GetTeller(context.Background(), id)
		return err
	}); err != nil {
		t.Fatalf("load teller %s: %v", id, err)
	}
	return teller
}

// assertConsistent checks the customer field rules and that a teller is
// serving exactly when one active customer points at it.
func assertConsistent(t *testing.T, st store.Store, day string) {
	t.Helper()
	var customers []models.Customer
	var tellers []models.Teller
	if err := st.InTx(context.Background(), func(tx store.Tx) error {
		var err error
		if customers, err = tx.ListCustomers(context.Background(), day); err != nil {
			return err
		}
		tellers, err = tx.ListTellers(context.Background())
		return err
	}); err != nil {
		t.Fatalf("read state: %v", err)
	}

	active := make(map[string]int)
	for _, c := range customers {
		switch c.Status {
		case models.StatusWaiting:
			if c.StartServiceTime != nil || c.TellerID != nil || c.EndServiceTime != nil {
				t.Fatalf("waiting customer %s carries service fields", c.ID)
			}
		case models.StatusServing:
			if c.StartServiceTime == nil || c.TellerID == nil || c.EndServiceTime != nil {
				t.Fatalf("serving customer %s has inconsistent fields", c.ID)
			}
			active[*c.TellerID]++
		case models.StatusCompleted:
			if c.StartServiceTime == nil || c.TellerID == nil || c.EndServiceTime == nil {
				t.Fatalf("completed customer %s has inconsistent fields", c.ID)
			}
		case models.StatusCancelled:
			if c.EndServiceTime == nil {
				t.Fatalf("cancelled customer %s has no end time", c.ID)
			}
		}
	}
	for _, teller := range tellers {
		serving := teller.Status == models.TellerServing
		if serving != (active[teller.ID] == 1) || active[teller.ID] > 1 {
			t.Fatalf("teller %s status %s with %d active customers", teller.ID, teller.Status, active[teller.ID])
		}
	}
}

func TestCheckInAssignsTokenAndNormalizesPhone(t *testing.T) {
	l, _, _ := newTestLedger(t, Options{})

	alice := checkIn(t, l, "Alice", "078 123 456", "forex")
	if alice.TokenNumber != 1 {
		t.Fatalf("expected token 1, got %d", alice.TokenNumber)
	}
	if alice.Status != models.StatusWaiting {
		t.Fatalf("expected waiting, got %s", alice.Status)
	}
	if alice.PhoneNumber != "078123456" {
		t.Fatalf("expected normalized phone, got %q", alice.PhoneNumber)
	}
	if alice.EstimatedWaitTime != 15 {
		t.Fatalf("expected default estimate 15, got %d", alice.EstimatedWaitTime)
	}
	if !alice.CheckInTime.Equal(testStart) {
		t.Fatalf("expected check in at %v, got %v", testStart, alice.CheckInTime)
	}
	if alice.ServiceDay != "2025-01-15" {
		t.Fatalf("unexpected service day %s", alice.ServiceDay)
	}

	bob := checkIn(t, l, "Bob", "078000111", "account-services")
	if bob.TokenNumber != 2 {
		t.Fatalf("expected token 2, got %d", bob.TokenNumber)
	}
}

func TestCheckInValidation(t *testing.T) {
	l, _, _ := newTestLedger(t, Options{})
	cases := []CheckInInput{
		{Name: "", PhoneNumber: "078", ServiceType: "forex"},
		{Name: "Alice", PhoneNumber: "   ", ServiceType: "forex"},
		{Name: "Alice", PhoneNumber: "078", ServiceType: " "},
	}
	for _, in := range cases {
		if _, err := l.CheckIn(context.Background(), in); !errors.Is(err, store.ErrValidation) {
			t.Fatalf("CheckIn(%+v): expected ErrValidation, got %v", in, err)
		}
	}
	list, err := l.ListToday(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no customers, got %d", len(list))
	}
}

func TestServeAndComplete(t *testing.T) {
	ctx := context.Background()
	l, st, clk := newTestLedger(t, Options{})
	alice := checkIn(t, l, "Alice", "078 123 456", "forex")

	clk.Advance(5 * time.Minute)
	serving, err := l.UpdateStatus(ctx, alice.ID, "serving", "1")
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if serving.StartServiceTime == nil || !serving.StartServiceTime.Equal(testStart.Add(5*time.Minute)) {
		t.Fatalf("expected start service time to be set")
	}
	if serving.AssignedTeller() != "1" {
		t.Fatalf("expected teller 1, got %q", serving.AssignedTeller())
	}
	if teller := loadTeller(t, st, "1"); teller.Status != models.TellerServing {
		t.Fatalf("expected teller 1 serving, got %s", teller.Status)
	}
	assertConsistent(t, st, "2025-01-15")

	clk.Advance(7 * time.Minute)
	if _, err := l.UpdateStatus(ctx, alice.ID, "completed", ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	done := loadCustomer(t, st, alice.ID)
	if done.EndServiceTime == nil || !done.EndServiceTime.Equal(testStart.Add(12*time.Minute)) {
		t.Fatalf("expected end service time to be set")
	}
	if done.AssignedTeller() != "1" {
		t.Fatalf("teller id must survive completion")
	}
	teller := loadTeller(t, st, "1")
	if teller.Status != models.TellerAvailable {
		t.Fatalf("expected teller 1 available, got %s", teller.Status)
	}
	if teller.CustomersServed != 1 {
		t.Fatalf("expected customers served 1, got %d", teller.CustomersServed)
	}
	assertConsistent(t, st, "2025-01-15")
}

func TestUpdateStatusUnknownCustomer(t *testing.T) {
	l, st, _ := newTestLedger(t, Options{})
	_, err := l.UpdateStatus(context.Background(), "nonexistent-id", "serving", "1")
	if !errors.Is(err, store.ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
	if teller := loadTeller(t, st, "1"); teller.Status != models.TellerAvailable {
		t.Fatalf("teller must stay available, got %s", teller.Status)
	}
}

func TestUpdateStatusIncapableTeller(t *testing.T) {
	l, st, _ := newTestLedger(t, Options{})
	bob := checkIn(t, l, "Bob", "078000111", "account-services")

	_, err := l.UpdateStatus(context.Background(), bob.ID, "serving", "2")
	if !errors.Is(err, store.ErrTellerUnavailable) {
		t.Fatalf("expected ErrTellerUnavailable, got %v", err)
	}
	if got := loadCustomer(t, st, bob.ID); got.Status != models.StatusWaiting {
		t.Fatalf("expected bob waiting, got %s", got.Status)
	}
	if teller := loadTeller(t, st, "2"); teller.Status != models.TellerAvailable {
		t.Fatalf("teller 2 must stay available")
	}
}

func TestUpdateStatusRejections(t *testing.T) {
	ctx := context.Background()
	l, st, _ := newTestLedger(t, Options{})
	alice := checkIn(t, l, "Alice", "078123456", "forex")
	bob := checkIn(t, l, "Bob", "078000111", "international-transfer")
	carol := checkIn(t, l, "Carol", "078000222", "domestic-transfer")
	if _, err := l.UpdateStatus(ctx, alice.ID, "serving", "1"); err != nil {
		t.Fatalf("serve alice: %v", err)
	}

	cases := []struct {
		name     string
		customer string
		status   string
		teller   string
		want     []error
	}{
		{"unknown status", bob.ID, "on_break", "2", []error{store.ErrValidation}},
		{"serving without teller", bob.ID, "serving", "", []error{store.ErrInvalidTransition}},
		{"unknown teller", bob.ID, "serving", "99", []error{store.ErrInvalidTransition, store.ErrTellerNotFound}},
		{"busy teller", bob.ID, "serving", "1", []error{store.ErrTellerUnavailable}},
		{"complete waiting", bob.ID, "completed", "", []error{store.ErrInvalidTransition}},
		{"back to waiting", alice.ID, "waiting", "", []error{store.ErrInvalidTransition}},
		{"serve twice", alice.ID, "serving", "2", []error{store.ErrInvalidTransition}},
		{"complete with other teller", alice.ID, "completed", "2", []error{store.ErrInvalidTransition}},
		{"domestic to forex teller", carol.ID, "serving", "1", []error{store.ErrTellerUnavailable}},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.UpdateStatus(ctx, tt.customer, tt.status, tt.teller)
			for _, want := range tt.want {
				if !errors.Is(err, want) {
					t.Fatalf("expected %v, got %v", want, err)
				}
			}
		})
	}
	assertConsistent(t, st, "2025-01-15")
	if got := loadCustomer(t, st, bob.ID); got.Status != models.StatusWaiting {
		t.Fatalf("bob must still be waiting, got %s", got.Status)
	}
}

func TestCancelReleasesTellerWithoutCredit(t *testing.T) {
	ctx := context.Background()
	l, st, _ := newTestLedger(t, Options{})
	alice := checkIn(t, l, "Alice", "078123456", "forex")
	bob := checkIn(t, l, "Bob", "078000111", "forex")

	if _, err := l.UpdateStatus(ctx, alice.ID, "serving", "1"); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if _, err := l.UpdateStatus(ctx, alice.ID, "cancelled", "1"); err != nil {
		t.Fatalf("cancel serving: %v", err)
	}
	teller := loadTeller(t, st, "1")
	if teller.Status != models.TellerAvailable || teller.CustomersServed != 0 {
		t.Fatalf("expected available teller with no credit, got %s/%d", teller.Status, teller.CustomersServed)
	}

	cancelled, err := l.UpdateStatus(ctx, bob.ID, "cancelled", "")
	if err != nil {
		t.Fatalf("cancel waiting: %v", err)
	}
	if cancelled.EndServiceTime == nil || cancelled.TellerID != nil {
		t.Fatalf("unexpected cancelled waiting customer %+v", cancelled)
	}
	if _, err := l.UpdateStatus(ctx, bob.ID, "cancelled", ""); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected terminal state to reject, got %v", err)
	}
	assertConsistent(t, st, "2025-01-15")
}

func TestConcurrentCheckInsYieldDenseTokens(t *testing.T) {
	l, _, _ := newTestLedger(t, Options{})
	const n = 64

	var wg sync.WaitGroup
	results := make(chan int, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := l.CheckIn(context.Background(), CheckInInput{
				Name:        fmt.Sprintf("customer-%d", i),
				PhoneNumber: "078000000",
				ServiceType: "forex",
			})
			if err != nil {
				errs <- err
				return
			}
			results <- c.TokenNumber
		}(i)
	}
	wg.Wait()
	close(results)
	close(errs)
	for err := range errs {
		t.Fatalf("check in: %v", err)
	}

	var got []int
	for token := range results {
		got = append(got, token)
	}
	sort.Ints(got)
	if len(got) != n {
		t.Fatalf("expected %d tokens, got %d", n, len(got))
	}
	for i, token := range got {
		if token != i+1 {
			t.Fatalf("expected tokens 1..%d, got %v", n, got)
		}
	}
}

// steppingClock advances one microsecond per read and yields, so readers
// interleave the way lock waits would make them.
type steppingClock struct {
	ticks atomic.Int64
}

func (c *steppingClock) Now() time.Time {
	n := c.ticks.Add(1)
	runtime.Gosched()
	return testStart.Add(time.Duration(n) * time.Microsecond)
}

func TestCheckInTimesFollowTokenOrder(t *testing.T) {
	st := memory.NewStore()
	if _, err := st.SeedTellers(context.Background(), models.DefaultRoster()); err != nil {
		t.Fatalf("seed tellers: %v", err)
	}
	l := NewLedger(st, &steppingClock{}, Options{})
	const n = 200

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := l.CheckIn(context.Background(), CheckInInput{
				Name:        fmt.Sprintf("customer-%d", i),
				PhoneNumber: "078000000",
				ServiceType: "forex",
			}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("check in: %v", err)
	}

	customers, err := l.ListToday(context.Background())
	if err != nil {
		t.Fatalf("list today: %v", err)
	}
	if len(customers) != n {
		t.Fatalf("expected %d customers, got %d", n, len(customers))
	}
	for i, c := range customers {
		if c.TokenNumber != i+1 {
			t.Fatalf("position %d holds token %d", i, c.TokenNumber)
		}
		if i > 0 && c.CheckInTime.Before(customers[i-1].CheckInTime) {
			t.Fatalf("token %d checked in at %s, before token %d at %s",
				c.TokenNumber, c.CheckInTime, customers[i-1].TokenNumber, customers[i-1].CheckInTime)
		}
	}
}

func TestCheckInRetriesAcrossDayBoundary(t *testing.T) {
	st := memory.NewStore()
	if _, err := st.SeedTellers(context.Background(), models.DefaultRoster()); err != nil {
		t.Fatalf("seed tellers: %v", err)
	}
	clk := &rolloverClock{reads: []time.Time{
		time.Date(2025, 1, 15, 23, 59, 59, 999999000, time.UTC),
		time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC),
	}}
	l := NewLedger(st, clk, Options{})

	c := checkIn(t, l, "Late", "0781111111", "forex")
	if c.ServiceDay != "2025-01-16" || c.TokenNumber != 1 {
		t.Fatalf("expected token 1 on 2025-01-16, got %d on %s", c.TokenNumber, c.ServiceDay)
	}
	if clock.ServiceDay(c.CheckInTime, time.UTC) != c.ServiceDay {
		t.Fatalf("check-in time %s outside service day %s", c.CheckInTime, c.ServiceDay)
	}
}

// rolloverClock returns reads in order and then repeats the last one.
type rolloverClock struct {
	mu    sync.Mutex
	reads []time.Time
}

func (c *rolloverClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.reads[0]
	if len(c.reads) > 1 {
		c.reads = c.reads[1:]
	}
	return now
}

func TestConcurrentServeOfSameCustomer(t *testing.T) {
	l, st, _ := newTestLedger(t, Options{})
	alice := checkIn(t, l, "Alice", "078123456", "international-transfer")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, teller := range []string{"1", "2"} {
		wg.Add(1)
		go func(teller string) {
			defer wg.Done()
			_, err := l.UpdateStatus(context.Background(), alice.ID, "serving", teller)
			errs <- err
		}(teller)
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrInvalidTransition):
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one winner, got %d", succeeded)
	}
	assertConsistent(t, st, "2025-01-15")
}

func TestTokensRestartOnNewServiceDay(t *testing.T) {
	l, _, clk := newTestLedger(t, Options{})
	checkIn(t, l, "Alice", "078123456", "forex")
	checkIn(t, l, "Bob", "078000111", "forex")

	clk.Advance(24 * time.Hour)
	carol := checkIn(t, l, "Carol", "078000222", "forex")
	if carol.TokenNumber != 1 {
		t.Fatalf("expected token 1 on a new day, got %d", carol.TokenNumber)
	}
	today, err := l.ListToday(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(today) != 1 || today[0].ID != carol.ID {
		t.Fatalf("expected only carol today, got %+v", today)
	}
}

func TestServiceDayFollowsLocation(t *testing.T) {
	kigali := time.FixedZone("CAT", 2*60*60)
	l, _, clk := newTestLedger(t, Options{Location: kigali})
	clk.Set(time.Date(2025, 1, 15, 21, 30, 0, 0, time.UTC))
	first := checkIn(t, l, "Alice", "078123456", "forex")

	clk.Set(time.Date(2025, 1, 15, 22, 30, 0, 0, time.UTC))
	second := checkIn(t, l, "Bob", "078000111", "forex")

	if first.ServiceDay != "2025-01-15" || second.ServiceDay != "2025-01-16" {
		t.Fatalf("unexpected service days %s, %s", first.ServiceDay, second.ServiceDay)
	}
	if second.TokenNumber != 1 {
		t.Fatalf("expected token 1 after local midnight, got %d", second.TokenNumber)
	}
}

func TestListTodayJoinsTellerName(t *testing.T) {
	ctx := context.Background()
	l, _, clk := newTestLedger(t, Options{})
	alice := checkIn(t, l, "Alice", "078123456", "forex")
	clk.Advance(time.Second)
	checkIn(t, l, "Bob", "078000111", "forex")
	if _, err := l.UpdateStatus(ctx, alice.ID, "serving", "1"); err != nil {
		t.Fatalf("serve: %v", err)
	}

	list, err := l.ListToday(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 customers, got %d", len(list))
	}
	if list[0].ID != alice.ID || list[0].TellerName != "Jean Bosco" {
		t.Fatalf("expected alice first with teller name, got %+v", list[0])
	}
	if list[1].TellerName != "" {
		t.Fatalf("waiting customer must have no teller name")
	}
}

func TestServeNextPicksLowestCapableToken(t *testing.T) {
	ctx := context.Background()
	l, st, _ := newTestLedger(t, Options{})
	checkIn(t, l, "Dan", "078000333", "account-services")
	bob := checkIn(t, l, "Bob", "078000111", "forex")
	carol := checkIn(t, l, "Carol", "078000222", "international-transfer")

	preview, ok, err := l.NextForTeller(ctx, "1")
	if err != nil || !ok {
		t.Fatalf("preview: ok=%v err=%v", ok, err)
	}
	if preview.ID != bob.ID {
		t.Fatalf("expected bob next, got %s", preview.Name)
	}

	served, err := l.ServeNext(ctx, "1")
	if err != nil {
		t.Fatalf("serve next: %v", err)
	}
	if served.ID != bob.ID || served.Status != models.StatusServing {
		t.Fatalf("expected bob serving, got %+v", served)
	}
	if _, err := l.ServeNext(ctx, "1"); !errors.Is(err, store.ErrTellerUnavailable) {
		t.Fatalf("expected busy teller to be rejected, got %v", err)
	}

	next, err := l.ServeNext(ctx, "2")
	if err != nil {
		t.Fatalf("serve next for teller 2: %v", err)
	}
	if next.ID != carol.ID {
		t.Fatalf("expected carol for teller 2, got %s", next.Name)
	}
	assertConsistent(t, st, "2025-01-15")
}

func TestServeNextErrors(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t, Options{})
	checkIn(t, l, "Dan", "078000333", "account-services")

	if _, err := l.ServeNext(ctx, "1"); !errors.Is(err, store.ErrNoWaitingCustomer) {
		t.Fatalf("expected ErrNoWaitingCustomer, got %v", err)
	}
	if _, err := l.ServeNext(ctx, "99"); !errors.Is(err, store.ErrTellerNotFound) {
		t.Fatalf("expected ErrTellerNotFound, got %v", err)
	}
	if _, ok, err := l.NextForTeller(ctx, "1"); err != nil || ok {
		t.Fatalf("expected empty preview, got ok=%v err=%v", ok, err)
	}
}

func TestFindAvailableTeller(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t, Options{})

	teller, ok, err := l.FindAvailableTeller(ctx, "international-transfer")
	if err != nil || !ok || teller.ID != "1" {
		t.Fatalf("expected teller 1, got %+v ok=%v err=%v", teller, ok, err)
	}

	alice := checkIn(t, l, "Alice", "078123456", "international-transfer")
	if _, err := l.UpdateStatus(ctx, alice.ID, "serving", "1"); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if _, err := l.UpdateStatus(ctx, alice.ID, "completed", "1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	teller, ok, err = l.FindAvailableTeller(ctx, "international-transfer")
	if err != nil || !ok || teller.ID != "2" {
		t.Fatalf("expected least served teller 2, got %+v ok=%v err=%v", teller, ok, err)
	}
	if _, ok, _ := l.FindAvailableTeller(ctx, "mortgages"); ok {
		t.Fatalf("expected no teller for unknown service")
	}
}

func TestHistoryChainsEvents(t *testing.T) {
	ctx := context.Background()
	l, _, clk := newTestLedger(t, Options{})
	alice := checkIn(t, l, "Alice", "078123456", "forex")
	clk.Advance(time.Minute)
	if _, err := l.UpdateStatus(ctx, alice.ID, "serving", "1"); err != nil {
		t.Fatalf("serve: %v", err)
	}
	clk.Advance(time.Minute)
	if _, err := l.UpdateStatus(ctx, alice.ID, "completed", ""); err != nil {
		t.Fatalf("complete: %v", err)
	}

	events, err := l.History(ctx, alice.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	wantTypes := []string{store.EventCheckedIn, store.EventServing, store.EventCompleted}
	if len(events) != len(wantTypes) {
		t.Fatalf("expected %d events, got %d", len(wantTypes), len(events))
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Fatalf("event %d: expected %s, got %s", i, want, events[i].Type)
		}
	}
	if err := store.VerifyChain(events); err != nil {
		t.Fatalf("verify chain: %v", err)
	}
	rebuilt, err := store.RehydrateCustomer(events)
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if rebuilt.Status != models.StatusCompleted || rebuilt.AssignedTeller() != "1" {
		t.Fatalf("unexpected rebuilt customer %+v", rebuilt)
	}

	if _, err := l.History(ctx, "nonexistent-id"); !errors.Is(err, store.ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
}

func TestExternalTokenAllocator(t *testing.T) {
	counter := tokens.NewCounter()
	l, _, _ := newTestLedger(t, Options{Tokens: counter})
	checkIn(t, l, "Alice", "078123456", "forex")
	bob := checkIn(t, l, "Bob", "078000111", "forex")
	if bob.TokenNumber != 2 {
		t.Fatalf("expected token 2, got %d", bob.TokenNumber)
	}
	if counter.Peek("2025-01-15") != 2 {
		t.Fatalf("expected the external counter to be used")
	}
}

type failingAllocator struct{}

func (failingAllocator) NextToken(context.Context, string) (int, error) {
	return 0, errors.New("redis: connection refused")
}

func TestTokenAllocatorFailureIsStorageError(t *testing.T) {
	l, _, _ := newTestLedger(t, Options{Tokens: failingAllocator{}})
	_, err := l.CheckIn(context.Background(), CheckInInput{Name: "Alice", PhoneNumber: "078", ServiceType: "forex"})
	if !errors.Is(err, store.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}

func TestQueueLengthEstimateAtCheckIn(t *testing.T) {
	l, _, _ := newTestLedger(t, Options{Estimator: QueueLengthEstimator{
		DefaultServiceMinutes: 10,
		ServiceMinutes:        map[string]int{"international-transfer": 15},
		NoTellerWait:          30,
	}})
	first := checkIn(t, l, "Alice", "078123456", "international-transfer")
	second := checkIn(t, l, "Bob", "078000111", "international-transfer")
	third := checkIn(t, l, "Carol", "078000222", "international-transfer")
	odd := checkIn(t, l, "Dan", "078000333", "mortgages")

	if first.EstimatedWaitTime != 0 || second.EstimatedWaitTime != 8 || third.EstimatedWaitTime != 15 {
		t.Fatalf("unexpected estimates %d, %d, %d", first.EstimatedWaitTime, second.EstimatedWaitTime, third.EstimatedWaitTime)
	}
	if odd.EstimatedWaitTime != 30 {
		t.Fatalf("expected 30 with no capable teller, got %d", odd.EstimatedWaitTime)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	l, _, clk := newTestLedger(t, Options{})
	alice := checkIn(t, l, "Alice", "078123456", "forex")
	bob := checkIn(t, l, "Bob", "078000111", "international-transfer")
	carol := checkIn(t, l, "Carol", "078000222", "domestic-transfer")
	checkIn(t, l, "Dan", "078000333", "account-services")

	clk.Advance(10 * time.Minute)
	if _, err := l.UpdateStatus(ctx, alice.ID, "serving", "1"); err != nil {
		t.Fatalf("serve alice: %v", err)
	}
	clk.Advance(10 * time.Minute)
	if _, err := l.UpdateStatus(ctx, bob.ID, "serving", "2"); err != nil {
		t.Fatalf("serve bob: %v", err)
	}
	clk.Advance(5 * time.Minute)
	if _, err := l.UpdateStatus(ctx, alice.ID, "completed", ""); err != nil {
		t.Fatalf("complete alice: %v", err)
	}
	if _, err := l.UpdateStatus(ctx, carol.ID, "cancelled", ""); err != nil {
		t.Fatalf("cancel carol: %v", err)
	}

	stats, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := QueueStats{
		ServiceDay:         "2025-01-15",
		TotalCustomers:     4,
		WaitingCustomers:   1,
		ServingCustomers:   1,
		CompletedCustomers: 1,
		CancelledCustomers: 1,
		AvgWaitMinutes:     15,
		AvgServiceMinutes:  15,
	}
	if stats != want {
		t.Fatalf("expected %+v, got %+v", want, stats)
	}
}
