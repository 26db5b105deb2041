package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/blocks"
	"github.com/hackgods/clinic-scheduling/internal/cache"
	"github.com/hackgods/clinic-scheduling/internal/clinic"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "clinicctl",
		Short:        "Operational commands for the clinic scheduling service",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(cacheCmd())
	rootCmd.AddCommand(slotsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type deps struct {
	cfg    config.Config
	logger *logging.Logger
	pg     *pgxpool.Pool
	redis  *redis.Client
}

func (d *deps) Close() {
	if d.pg != nil {
		d.pg.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
}

func connect(ctx context.Context, needPG, needRedis bool) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	d := &deps{cfg: cfg, logger: logging.New(cfg.LogLevel).With("service", "clinicctl")}

	if needPG {
		d.pg, err = db.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
	}
	if needRedis {
		d.redis, err = redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			d.Close()
			return nil, err
		}
	}
	return d, nil
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify postgres and redis connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			failed := false
			if pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "postgres: down (%v)\n", err)
				failed = true
			} else {
				pool.Close()
				fmt.Fprintln(cmd.OutOrStdout(), "postgres: ok")
			}
			if rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "redis: down (%v)\n", err)
				failed = true
			} else {
				_ = rdb.Close()
				fmt.Fprintln(cmd.OutOrStdout(), "redis: ok")
			}

			if failed {
				return fmt.Errorf("one or more dependencies are down")
			}
			return nil
		},
	}
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the appointment listing cache",
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop cached listings for one clinic, or all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			raw, _ := cmd.Flags().GetString("clinic")

			d, err := connect(ctx, false, true)
			if err != nil {
				return err
			}
			defer d.Close()

			listing := cache.NewListingCache(d.redis, nil, d.cfg.ListingCacheTTL, d.logger, nil)
			if raw == "" {
				n, err := listing.Clear(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached listings\n", n)
				return nil
			}

			clinicID, err := uuid.Parse(raw)
			if err != nil {
				return fmt.Errorf("--clinic must be a UUID: %w", err)
			}
			if err := listing.Invalidate(ctx, clinicID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared listings for clinic %s\n", clinicID)
			return nil
		},
	}
	clearCmd.Flags().String("clinic", "", "Clinic ID (all clinics when empty)")
	cmd.AddCommand(clearCmd)

	return cmd
}

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Print the available slots of a clinic for one day",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			rawClinic, _ := cmd.Flags().GetString("clinic")
			rawDate, _ := cmd.Flags().GetString("date")
			rawDoctor, _ := cmd.Flags().GetString("doctor")

			clinicID, err := uuid.Parse(rawClinic)
			if err != nil {
				return fmt.Errorf("--clinic must be a UUID: %w", err)
			}
			date, err := availability.ParseDate(rawDate)
			if err != nil {
				return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
			}
			var doctorID *uuid.UUID
			if rawDoctor != "" {
				id, err := uuid.Parse(rawDoctor)
				if err != nil {
					return fmt.Errorf("--doctor must be a UUID: %w", err)
				}
				doctorID = &id
			}

			d, err := connect(ctx, true, false)
			if err != nil {
				return err
			}
			defer d.Close()

			clinicRepo := clinic.NewPgRepository(d.pg)
			apptRepo := appointment.NewPgRepository(d.pg)
			blockSvc := blocks.NewService(blocks.NewPgRepository(d.pg), nil, nil, d.logger)
			resolver := availability.NewResolver(clinicRepo, apptRepo, blockSvc, d.cfg, d.logger, nil)

			slots, err := resolver.ComputeAvailableSlots(ctx, clinicID, date, doctorID)
			if err != nil {
				return err
			}

			c, err := clinicRepo.GetClinic(ctx, clinicID)
			if err != nil {
				return err
			}
			loc := c.Location()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "START\tEND\tDOCTOR")
			for _, s := range slots {
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.StartTime.In(loc).Format("15:04"), s.EndTime.In(loc).Format("15:04"), s.DoctorName)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d slots (%s)\n", len(slots), loc)
			return nil
		},
	}
	cmd.Flags().String("clinic", "", "Clinic ID")
	cmd.Flags().String("date", time.Now().Format("2006-01-02"), "Date (YYYY-MM-DD)")
	cmd.Flags().String("doctor", "", "Restrict to one doctor")
	_ = cmd.MarkFlagRequired("clinic")
	return cmd
}
