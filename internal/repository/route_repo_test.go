package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"senderos_booking/internal/models"
)

// openTestDB returns an in-memory sqlite database with the full schema.
// The pool is pinned to a single connection so concurrent test goroutines
// serialize on it instead of fighting over sqlite's write lock.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&models.User{},
		&models.Route{},
		&models.RouteAvailability{},
		&models.Payment{},
		&models.PaymentParticipant{},
		&models.PaymentWebhookLog{},
	)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func createTestRoute(t *testing.T, db *gorm.DB, capacity int) *models.Route {
	t.Helper()
	route := &models.Route{
		Title:                     "Páramo de Sumapaz",
		Location:                  "Cundinamarca",
		Difficulty:                models.DifficultyMedium,
		BasePriceCents:            9000000,
		RequiresPayment:           true,
		MaxCapacity:               capacity,
		MinParticipants:           1,
		MaxParticipantsPerBooking: 10,
		IsActive:                  true,
	}
	if err := db.Create(route).Error; err != nil {
		t.Fatalf("failed to create route: %v", err)
	}
	return route
}

func futureDate() time.Time {
	return DateOnly(time.Now().UTC().AddDate(0, 0, 3))
}

func TestGetOrCreateAvailabilitySeedsAndConverges(t *testing.T) {
	db := openTestDB(t)
	repo := NewRouteRepo(db)
	route := createTestRoute(t, db, 15)
	day := futureDate()

	a, err := repo.GetOrCreateAvailability(context.Background(), route, day)
	if err != nil {
		t.Fatalf("GetOrCreateAvailability() error = %v", err)
	}
	if a.AvailableSlots != 15 {
		t.Errorf("AvailableSlots = %d; want seeded 15", a.AvailableSlots)
	}
	if !a.IsAvailable {
		t.Error("new availability not marked available")
	}

	// Mutate, then ask again: the second call must return the existing row,
	// never reseed it.
	if err := repo.ReserveSlots(context.Background(), route.ID, day, 5); err != nil {
		t.Fatal(err)
	}
	again, err := repo.GetOrCreateAvailability(context.Background(), route, day)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != a.ID {
		t.Errorf("second call created a new row: %d vs %d", again.ID, a.ID)
	}
	if again.AvailableSlots != 10 {
		t.Errorf("AvailableSlots = %d; want 10, not a reseed", again.AvailableSlots)
	}
}

func TestReserveSlots(t *testing.T) {
	db := openTestDB(t)
	repo := NewRouteRepo(db)
	route := createTestRoute(t, db, 5)
	day := futureDate()
	ctx := context.Background()

	if _, err := repo.GetOrCreateAvailability(ctx, route, day); err != nil {
		t.Fatal(err)
	}

	if err := repo.ReserveSlots(ctx, route.ID, day, 3); err != nil {
		t.Fatalf("ReserveSlots(3) error = %v", err)
	}

	// 2 left, asking for 3 must fail and report what remains
	err := repo.ReserveSlots(ctx, route.ID, day, 3)
	var slotsErr *InsufficientSlotsError
	if !errors.As(err, &slotsErr) {
		t.Fatalf("error = %v; want *InsufficientSlotsError", err)
	}
	if slotsErr.Remaining != 2 || slotsErr.Requested != 3 {
		t.Errorf("Remaining = %d, Requested = %d; want 2, 3", slotsErr.Remaining, slotsErr.Requested)
	}
	if !strings.Contains(slotsErr.Error(), "2 cupos disponibles") {
		t.Errorf("message = %q", slotsErr.Error())
	}

	// The failed attempt must not have touched the counter
	a, _ := repo.GetOrCreateAvailability(ctx, route, day)
	if a.AvailableSlots != 2 {
		t.Errorf("AvailableSlots = %d after failed reserve; want 2", a.AvailableSlots)
	}

	// Draining the rest works; the counter bottoms out at zero
	if err := repo.ReserveSlots(ctx, route.ID, day, 2); err != nil {
		t.Fatal(err)
	}
	a, _ = repo.GetOrCreateAvailability(ctx, route, day)
	if a.AvailableSlots != 0 {
		t.Errorf("AvailableSlots = %d; want 0", a.AvailableSlots)
	}
}

func TestReserveSlotsPastDate(t *testing.T) {
	db := openTestDB(t)
	repo := NewRouteRepo(db)
	route := createTestRoute(t, db, 5)

	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	if err := repo.ReserveSlots(context.Background(), route.ID, yesterday, 1); !errors.Is(err, ErrPastDate) {
		t.Errorf("error = %v; want ErrPastDate", err)
	}
}

func TestReserveSlotsClosedDate(t *testing.T) {
	db := openTestDB(t)
	repo := NewRouteRepo(db)
	route := createTestRoute(t, db, 5)
	day := futureDate()
	ctx := context.Background()

	if _, err := repo.GetOrCreateAvailability(ctx, route, day); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkDateUnavailable(ctx, route.ID, day); err != nil {
		t.Fatal(err)
	}

	if err := repo.ReserveSlots(ctx, route.ID, day, 1); !errors.Is(err, ErrDateUnavailable) {
		t.Errorf("error = %v; want ErrDateUnavailable", err)
	}

	// Reopening lets reservations through again
	if err := repo.MarkDateAvailable(ctx, route.ID, day); err != nil {
		t.Fatal(err)
	}
	if err := repo.ReserveSlots(ctx, route.ID, day, 1); err != nil {
		t.Errorf("ReserveSlots after reopen: %v", err)
	}
}

func TestReserveSlotsUnknownDate(t *testing.T) {
	db := openTestDB(t)
	repo := NewRouteRepo(db)
	route := createTestRoute(t, db, 5)

	err := repo.ReserveSlots(context.Background(), route.ID, futureDate(), 1)
	if !errors.Is(err, ErrDateUnavailable) {
		t.Errorf("error = %v; want ErrDateUnavailable for a date with no ledger row", err)
	}
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	db := openTestDB(t)
	repo := NewRouteRepo(db)

	const capacity = 10
	route := createTestRoute(t, db, capacity)
	day := futureDate()
	ctx := context.Background()

	if _, err := repo.GetOrCreateAvailability(ctx, route, day); err != nil {
		t.Fatal(err)
	}

	// 25 goroutines racing for 2 slots each against a capacity of 10
	const workers = 25
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- repo.ReserveSlots(ctx, route.ID, day, 2)
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		var slotsErr *InsufficientSlotsError
		if !errors.As(err, &slotsErr) {
			t.Errorf("unexpected error: %v", err)
		}
	}

	if successes != capacity/2 {
		t.Errorf("successes = %d; want exactly %d", successes, capacity/2)
	}

	a, err := repo.GetOrCreateAvailability(ctx, route, day)
	if err != nil {
		t.Fatal(err)
	}
	if a.AvailableSlots != 0 {
		t.Errorf("AvailableSlots = %d after the race; want 0", a.AvailableSlots)
	}
	if a.AvailableSlots < 0 {
		t.Errorf("counter went negative: %d", a.AvailableSlots)
	}
}

func TestReleaseSlots(t *testing.T) {
	db := openTestDB(t)
	repo := NewRouteRepo(db)
	route := createTestRoute(t, db, 10)
	day := futureDate()
	ctx := context.Background()

	if _, err := repo.GetOrCreateAvailability(ctx, route, day); err != nil {
		t.Fatal(err)
	}
	if err := repo.ReserveSlots(ctx, route.ID, day, 4); err != nil {
		t.Fatal(err)
	}

	// Releasing a failed booking restores the prior value
	if err := repo.ReleaseSlots(ctx, route.ID, day, 4, route.MaxCapacity); err != nil {
		t.Fatalf("ReleaseSlots() error = %v", err)
	}
	a, _ := repo.GetOrCreateAvailability(ctx, route, day)
	if a.AvailableSlots != 10 {
		t.Errorf("AvailableSlots = %d; want 10", a.AvailableSlots)
	}

	// Over-releasing clamps at max capacity instead of inflating it
	if err := repo.ReleaseSlots(ctx, route.ID, day, 5, route.MaxCapacity); err != nil {
		t.Fatal(err)
	}
	a, _ = repo.GetOrCreateAvailability(ctx, route, day)
	if a.AvailableSlots != 10 {
		t.Errorf("AvailableSlots = %d after over-release; want clamped 10", a.AvailableSlots)
	}
}

func TestMarkDateAvailableRefusesPast(t *testing.T) {
	db := openTestDB(t)
	repo := NewRouteRepo(db)
	route := createTestRoute(t, db, 5)

	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	if err := repo.MarkDateAvailable(context.Background(), route.ID, yesterday); !errors.Is(err, ErrPastDate) {
		t.Errorf("error = %v; want ErrPastDate", err)
	}
}

func TestFindByID(t *testing.T) {
	db := openTestDB(t)
	repo := NewRouteRepo(db)
	route := createTestRoute(t, db, 5)
	ctx := context.Background()

	got, err := repo.FindByID(ctx, route.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if got.Title != route.Title {
		t.Errorf("Title = %s", got.Title)
	}

	if _, err := repo.FindByID(ctx, "00000000-0000-4000-8000-000000000000"); !errors.Is(err, ErrRouteNotFound) {
		t.Errorf("error = %v; want ErrRouteNotFound", err)
	}

	// Soft-deleted routes are invisible
	if err := db.Delete(route).Error; err != nil {
		t.Fatal(err)
	}
	if _, err := repo.FindByID(ctx, route.ID); !errors.Is(err, ErrRouteNotFound) {
		t.Errorf("error = %v after soft delete; want ErrRouteNotFound", err)
	}
}

func TestListDefaultsToActive(t *testing.T) {
	db := openTestDB(t)
	repo := NewRouteRepo(db)
	ctx := context.Background()

	active := createTestRoute(t, db, 5)
	inactive := createTestRoute(t, db, 5)
	if err := db.Model(inactive).Update("is_active", false).Error; err != nil {
		t.Fatal(err)
	}

	routes, total, err := repo.List(ctx, 1, 20, nil, nil)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 1 || len(routes) != 1 || routes[0].ID != active.ID {
		t.Errorf("List() = %d routes (total %d); want only the active one", len(routes), total)
	}

	// Explicitly asking for inactive routes returns them
	inactiveFlag := false
	routes, total, err = repo.List(ctx, 1, 20, nil, &inactiveFlag)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(routes) != 1 || routes[0].ID != inactive.ID {
		t.Errorf("List(is_active=false) returned %d routes (total %d)", len(routes), total)
	}
}
