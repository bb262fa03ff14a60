package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"vitalwatch/internal/config"
	"vitalwatch/internal/vitals"
	"vitalwatch/pkg/sdk"
)

func newClient(baseURL string) *sdk.Client {
	return sdk.New(sdk.Config{BaseURL: sdk.ResolveURL(baseURL), Timeout: 30 * time.Second})
}

func newPatientsCommand(cfgPath, baseURL *string, asJSON *bool) *cobra.Command {
	cmd := &cobra.Command{Use: "patients", Short: "Patient commands"}

	var room, sortBy string
	var page, perPage int
	cmdList := &cobra.Command{
		Use:   "list",
		Short: "List admitted patients",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient(*baseURL).Patients.List(cmd.Context(), sdk.ListOptions{
				Room: room, Sort: sortBy, Page: page, PerPage: perPage,
			})
			if err != nil {
				return err
			}
			if *asJSON {
				return printJSON(out)
			}
			cfg, err := loadConfigMaybe(*cfgPath)
			if err != nil {
				return err
			}
			return printPatientsTable(out.Patients, vitals.NewAnalyzer(cfg.Thresholds))
		},
	}
	cmdList.Flags().StringVar(&room, "room", "", "Only patients in this room")
	cmdList.Flags().StringVar(&sortBy, "sort", "", "Sort: name|room|admitted|severity")
	cmdList.Flags().IntVar(&page, "page", 1, "Page number")
	cmdList.Flags().IntVar(&perPage, "per-page", 0, "Page size (default from server config)")
	cmd.AddCommand(cmdList)

	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show one patient with its severity analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, analysis, err := newClient(*baseURL).Patients.Severity(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if *asJSON {
				return printJSON(map[string]any{"patient": p, "analysis": analysis})
			}
			v := p.Vitals
			fmt.Printf("%s  %s (%d, %s)  room %s\n", p.ID, p.Name, p.Age, p.Gender, p.Room)
			fmt.Printf("HR %d  BP %d/%d  SpO2 %d%%  T %.1f  RR %d\n",
				v.HeartRate, v.BloodPressure.Systolic, v.BloodPressure.Diastolic,
				v.OxygenSaturation, v.Temperature, v.RespiratoryRate)
			fmt.Printf("severity %d (%s)\n", analysis.SeverityScore, analysis.Level)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "discharge <id>",
		Short: "Discharge a patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newClient(*baseURL).Patients.Discharge(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if *asJSON {
				return printJSON(d)
			}
			fmt.Printf("discharged %s from room %s\n", d.PatientID, d.Room)
			return nil
		},
	})
	return cmd
}

func newWatchCommand(cfgPath, baseURL *string, asJSON *bool) *cobra.Command {
	var topics []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream batched updates for the given topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigMaybe(*cfgPath)
			if err != nil {
				return err
			}
			wsURL, err := sdk.WebSocketURL(*baseURL)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ch := sdk.NewUpdateChannel(sdk.ChannelOptions{
				URL:                  wsURL,
				Topics:               topics,
				ReconnectInterval:    config.ReconnectInterval(cfg),
				MaxReconnectAttempts: cfg.Client.MaxReconnectAttempts,
				OnStatus: func(s sdk.Status) {
					fmt.Fprintf(os.Stderr, "[%s] %s\n", time.Now().Format(time.TimeOnly), s)
				},
				OnEnvelope: func(env sdk.Envelope) {
					if *asJSON {
						b, _ := json.Marshal(env)
						fmt.Println(string(b))
						return
					}
					fmt.Printf("%s  %s  %s\n", time.Now().Format(time.TimeOnly), env.Topic, env.Data)
				},
			})
			if err := ch.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&topics, "topic", []string{"vitals", "admissions", "discharges"}, "Topics to subscribe to (repeatable)")
	return cmd
}

func newStatusCommand(baseURL *string, asJSON *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := sdk.ResolveURL(*baseURL)
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			h, err := newClient(*baseURL).Health(ctx)
			if err != nil {
				return fmt.Errorf("server at %s is not healthy: %w", url, err)
			}
			if *asJSON {
				return printJSON(map[string]any{"server_url": url, "health": h})
			}
			fmt.Printf("%s: %s (%d live sessions)\n", url, h.Status, h.Sessions)
			return nil
		},
	}
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printPatientsTable(items []sdk.Patient, analyzer vitals.Analyzer) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tROOM\tHR\tBP\tSPO2\tTEMP\tLEVEL")
	for _, p := range items {
		v := p.Vitals
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d/%d\t%d\t%.1f\t%s\n",
			p.ID, p.Name, p.Room, v.HeartRate, v.BloodPressure.Systolic, v.BloodPressure.Diastolic,
			v.OxygenSaturation, v.Temperature, analyzer.Analyze(v).Level)
	}
	return w.Flush()
}
