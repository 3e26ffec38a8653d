package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/bootstrap"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/observability"
)

// clinicHours are the bookable starts of a day, on the half hour.
var clinicHours = func() []string {
	var out []string
	for h := 8; h < 17; h++ {
		out = append(out, fmt.Sprintf("%02d:00", h), fmt.Sprintf("%02d:30", h))
	}
	return out
}()

func main() {
	count := flag.Int("appointments", 50, "number of fake demo appointments to book (0 seeds reference data only)")
	days := flag.Int("days", 14, "book demo appointments over this many days starting today")
	seed := flag.Uint64("seed", 0, "random seed for reproducible demo data (0 picks one)")
	flag.Parse()

	if err := run(*count, *days, *seed); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run(count, days int, seed uint64) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load error: %w", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.Env)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Open applies migrations and seeds the default roster and accounts.
	backend, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	logger.Info("reference data seeded", zap.String("backend", backend.Name))
	if count <= 0 {
		return nil
	}
	if days < 1 {
		days = 1
	}

	svc := appointment.NewService(backend.Stores, appointment.ServiceConfig{
		StoreTimeout: cfg.StoreTimeout,
	}, logger.Named("scheduling"), nil)

	doctors, err := svc.ListDoctors(ctx)
	if err != nil {
		return fmt.Errorf("list doctors: %w", err)
	}
	if len(doctors) == 0 {
		return errors.New("no active doctors to book with")
	}

	faker := gofakeit.New(seed)
	created, conflicts := seedAppointments(ctx, svc, faker, doctors, count, days, logger)

	logger.Info("seed complete",
		zap.Int("requested", count),
		zap.Int("created", created),
		zap.Int("conflicts", conflicts),
	)
	return nil
}

// seedAppointments books count random appointments through the service, so
// demo data obeys the same validation and exclusivity rules as real bookings.
func seedAppointments(
	ctx context.Context,
	svc *appointment.Service,
	faker *gofakeit.Faker,
	doctors []string,
	count, days int,
	logger *zap.Logger,
) (created, conflicts int) {
	today := time.Now()

	for i := 0; i < count; i++ {
		day := today.AddDate(0, 0, faker.Number(0, days-1))
		req := appointment.ScheduleRequest{
			PatientName: faker.Name(),
			DoctorName:  doctors[faker.Number(0, len(doctors)-1)],
			Date:        day.Format(time.DateOnly),
			Time:        clinicHours[faker.Number(0, len(clinicHours)-1)],
		}
		if faker.Bool() {
			req.PatientPhone = faker.Phone()
		}
		if faker.Number(0, 3) == 0 {
			req.Notes = faker.Sentence(6)
		}

		_, err := svc.ScheduleAppointment(ctx, req)
		switch {
		case err == nil:
			created++
		case errors.Is(err, appointment.ErrConflict):
			conflicts++
		default:
			logger.Warn("demo booking failed", zap.Error(err))
		}
	}
	return created, conflicts
}
