package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/appointment"
	"github.com/clinic/clinic/internal/domain/patient"
	"github.com/clinic/clinic/internal/domain/staff"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/docstore"
)

func seedCmd() *cobra.Command {
	var patients int
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo staff, patients and appointments into the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StoreBackend == config.BackendMemory {
				return fmt.Errorf("seeding the memory backend has no effect, use serve --seed")
			}
			logger := newLogger(cfg)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			b, err := openBackend(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer b.Close()
			return seedDemo(ctx, b.store, patients, logger)
		},
	}
	cmd.Flags().IntVar(&patients, "patients", 20, "Number of demo patients")
	return cmd
}

var demoStaff = []struct {
	name, email, role string
	duration          int64
}{
	{"Ana Admin", "admin@clinic.test", auth.RoleAdmin, 0},
	{"Daniel Doctor", "daniel@clinic.test", auth.RoleDoctor, 30},
	{"Diana Doctor", "diana@clinic.test", auth.RoleDoctor, 45},
	{"Tomas Therapist", "tomas@clinic.test", auth.RoleTherapist, 0},
	{"Rita Reception", "rita@clinic.test", auth.RoleReception, 0},
}

var demoNames = []string{
	"maria", "marcos", "lucia", "pedro", "sofia", "mateo", "valentina", "diego",
	"camila", "javier", "isabel", "andres", "paula", "hugo", "elena", "martin",
}

// seedDemo writes demo data through the domain services. Appointments are
// left open so the counters only move through real completions.
func seedDemo(ctx context.Context, store docstore.Store, n int, logger zerolog.Logger) error {
	staffSvc := staff.NewService(staff.NewUserRepo(store))
	for _, s := range demoStaff {
		u := &staff.User{Name: s.name, Email: s.email, Role: s.role}
		if s.duration > 0 {
			d := s.duration
			u.ConsultationDuration = &d
		}
		if err := staffSvc.CreateUser(ctx, u); err != nil {
			return fmt.Errorf("seed user %s: %w", s.email, err)
		}
	}

	patients := patient.NewPatientRepo(store)
	patientSvc := patient.NewService(patients)
	apptSvc := appointment.NewService(appointment.NewAppointmentRepo(store), patients)
	start := time.Now().UTC().Truncate(time.Hour).Add(24 * time.Hour)

	for i := 0; i < n; i++ {
		p := &patient.Patient{
			Name:    fmt.Sprintf("%s %d", demoNames[i%len(demoNames)], i/len(demoNames)+1),
			Contact: fmt.Sprintf("+34 600 %06d", i),
		}
		if err := patientSvc.CreatePatient(ctx, p); err != nil {
			return fmt.Errorf("seed patient %d: %w", i, err)
		}
		for j, typ := range []string{appointment.TypeConsultation, appointment.TypeTherapy, appointment.TypeTherapy} {
			a := &appointment.Appointment{
				PatientID: p.ID,
				Type:      typ,
				Date:      start.Add(time.Duration(i*3+j) * time.Hour),
			}
			if err := apptSvc.CreateAppointment(ctx, a); err != nil {
				return fmt.Errorf("seed appointment for %s: %w", p.ID, err)
			}
		}
	}

	logger.Info().Int("staff", len(demoStaff)).Int("patients", n).Int("appointments", n*3).Msg("demo data loaded")
	return nil
}
