package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chinmaydhabale/medschedule/internal/db"
	"github.com/chinmaydhabale/medschedule/internal/schedule"
	"github.com/chinmaydhabale/medschedule/internal/user"
)

type seedOptions struct {
	doctors   int
	patients  int
	days      int
	slotLen   time.Duration
	openHour  int
	closeHour int
}

var specializations = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func newSeedCommand() *cobra.Command {
	var opts seedOptions

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert demo doctors, patients and published schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.openHour >= opts.closeHour || opts.slotLen <= 0 {
				return fmt.Errorf("invalid working hours %d-%d with slot length %s", opts.openHour, opts.closeHour, opts.slotLen)
			}

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			return seed(cmd.Context(), e, opts)
		},
	}

	cmd.Flags().IntVar(&opts.doctors, "doctors", 20, "Number of doctors")
	cmd.Flags().IntVar(&opts.patients, "patients", 2000, "Number of patients")
	cmd.Flags().IntVar(&opts.days, "days", 5, "Days of schedules to publish from tomorrow")
	cmd.Flags().DurationVar(&opts.slotLen, "slot-length", 30*time.Minute, "Slot length")
	cmd.Flags().IntVar(&opts.openHour, "open-hour", 9, "First slot hour (UTC)")
	cmd.Flags().IntVar(&opts.closeHour, "close-hour", 17, "Hour the last slot ends (UTC)")

	return cmd
}

func seed(ctx context.Context, e *env, opts seedOptions) error {
	gofakeit.Seed(time.Now().UnixNano())

	if _, err := seedUsers(ctx, e, user.RoleAdmin, 1); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	doctors, err := seedUsers(ctx, e, user.RoleDoctor, opts.doctors)
	if err != nil {
		return fmt.Errorf("seed doctors: %w", err)
	}
	if _, err := seedUsers(ctx, e, user.RolePatient, opts.patients); err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}

	schedules := schedule.NewPgRepository(e.pool)
	first := schedule.DateOf(time.Now().AddDate(0, 0, 1))
	published := 0
	for i := 0; i < opts.days; i++ {
		date := schedule.DateOf(first.Time().AddDate(0, 0, i))
		inputs := daySlots(date, opts.openHour, opts.closeHour, opts.slotLen)
		for _, d := range doctors {
			sched, err := schedule.NewSchedule(d.ID, date, inputs)
			if err != nil {
				return err
			}
			if _, err := schedules.ReplaceDaySchedule(ctx, sched); err != nil {
				return fmt.Errorf("publish schedule for %s on %s: %w", d.ID, date, err)
			}
			published++
		}
	}

	e.log.Info("seed complete",
		zap.Int("doctors", len(doctors)),
		zap.Int("patients", opts.patients),
		zap.Int("schedules", published),
	)
	return nil
}

// seedUsers inserts count users of role in batches, one transaction each.
func seedUsers(ctx context.Context, e *env, role user.Role, count int) ([]user.User, error) {
	const batchSize = 500

	out := make([]user.User, 0, count)
	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := db.WithTx(ctx, e.pool, func(tx pgx.Tx) error {
			users := user.NewPgRepository(tx)
			for i := offset; i < end; i++ {
				created, err := users.Create(ctx, fakeUser(role))
				if err != nil {
					return err
				}
				out = append(out, *created)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		e.log.Info("users seeded", zap.String("role", string(role)), zap.Int("done", end), zap.Int("total", count))
	}
	return out, nil
}

func fakeUser(role user.Role) *user.User {
	u := &user.User{
		Name: gofakeit.Name(),
		// the numeric prefix keeps emails unique across large batches
		Email: fmt.Sprintf("%d.%s", gofakeit.Number(100000, 999999), gofakeit.Email()),
		Role:  role,
	}
	phone := gofakeit.Phone()
	u.PhoneNumber = &phone
	if role == user.RoleDoctor {
		spec := specializations[gofakeit.Number(0, len(specializations)-1)]
		u.Specialization = &spec
	}
	return u
}

// daySlots splits [openHour, closeHour) on date into back-to-back slots.
func daySlots(date schedule.Date, openHour, closeHour int, length time.Duration) []schedule.SlotInput {
	day := date.Time()
	closing := day.Add(time.Duration(closeHour) * time.Hour)

	var out []schedule.SlotInput
	for start := day.Add(time.Duration(openHour) * time.Hour); !start.Add(length).After(closing); start = start.Add(length) {
		out = append(out, schedule.SlotInput{StartTime: start, EndTime: start.Add(length)})
	}
	return out
}
