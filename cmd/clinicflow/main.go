// Command clinicflow drives the clinic intake workflows and the appointment
// lifecycle from the command line.
package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/songzhibin97/clinic-intake/catalog"
	"github.com/songzhibin97/clinic-intake/intake"
	"github.com/songzhibin97/clinic-intake/types"
	"github.com/songzhibin97/clinic-intake/views"
	"github.com/songzhibin97/clinic-intake/workflow"
)

// sharedStoreNote is appended to the help of commands that act on earlier
// bookings.
const sharedStoreNote = `Appointments booked by earlier runs are only visible with a shared store
(CLINIC_STORAGE=redis). The default memory store starts empty on every run.`

func main() {
	root, closeApp := rootCmd()
	err := root.Execute()
	closeApp()
	if err != nil {
		os.Exit(1)
	}
}

// rootCmd builds the command tree. The returned func releases whatever the
// invoked subcommand wired up.
func rootCmd() (*cobra.Command, func()) {
	var (
		configFile string
		a          *app
	)
	root := &cobra.Command{
		Use:          "clinicflow",
		Short:        "Clinic intake workflows and appointment lifecycle",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a, err = newApp(configFile)
			return err
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (CLINIC_* env vars override it)")

	get := func() *app { return a }
	root.AddCommand(slotsCmd(get))
	root.AddCommand(bookCmd(get))
	root.AddCommand(listCmd(get))
	root.AddCommand(cancelCmd(get))
	root.AddCommand(rescheduleCmd(get))
	root.AddCommand(emergencyCmd(get))
	root.AddCommand(uploadCmd(get))
	return root, func() {
		if a != nil {
			a.Close()
		}
	}
}

func slotsCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List open times for a practitioner on a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			practitioner, _ := cmd.Flags().GetString("practitioner")
			date, _ := cmd.Flags().GetString("date")

			seq, err := a.manager.ListAvailableSlots(cmd.Context(), practitioner, date)
			if err != nil {
				return err
			}
			for label, err := range seq {
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), label)
			}
			return nil
		},
	}
	cmd.Flags().String("practitioner", "", "Practitioner id, e.g. doc-001")
	cmd.Flags().String("date", "", "Date as YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("practitioner")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func bookCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Run the booking workflow and create an appointment",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			flags := cmd.Flags()
			consultation, _ := flags.GetString("consultation")
			practitioner, _ := flags.GetString("practitioner")
			date, _ := flags.GetString("date")
			at, _ := flags.GetString("time")
			notes, _ := flags.GetString("notes")

			ctx := cmd.Context()
			inst, err := a.engine.Start(ctx, workflow.Booking(a.catalog, nil))
			if err != nil {
				return err
			}
			defer a.engine.Abandon(ctx, inst)

			if err := a.fill(ctx, inst, map[string]interface{}{
				workflow.KeyConsultation: consultation,
				workflow.KeyPractitioner: practitioner,
				workflow.KeyDate:         date,
				workflow.KeyTime:         at,
				workflow.KeyNotes:        notes,
			}); err != nil {
				return err
			}

			sctx, cancel := a.submitCtx(ctx)
			defer cancel()
			var booked types.Appointment
			if _, err := a.engine.SubmitWith(sctx, inst, workflow.WithLatency(a.cfg.SubmitLatency,
				a.manager.Submitter(func(appt types.Appointment) { booked = appt }))); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), booked)
		},
	}
	cmd.Flags().String("consultation", "general", "Consultation type id")
	cmd.Flags().String("practitioner", "", "Practitioner id")
	cmd.Flags().String("date", "", "Date as YYYY-MM-DD, within the booking horizon")
	cmd.Flags().String("time", "", `Time label, e.g. "09:00 AM"`)
	cmd.Flags().String("notes", "", "Notes for the practitioner")
	return cmd
}

func listCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show appointments",
		Long:  "Show appointments.\n\n" + sharedStoreNote,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			a.warnIfEphemeral(cmd.Name())
			upcoming, _ := cmd.Flags().GetBool("upcoming")
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			var rows []views.Row
			var footer string
			if upcoming {
				sidebar, err := views.NewSidebar(ctx, a.manager)
				if err != nil {
					return err
				}
				defer sidebar.Close()
				rows, footer = sidebar.Rows(), sidebar.Summary()
			} else {
				page, err := views.NewListPage(ctx, a.manager)
				if err != nil {
					return err
				}
				defer page.Close()
				rows = page.Rows()
				counts := page.Counts()
				footer = fmt.Sprintf("%d confirmed, %d pending, %d rescheduled, %d cancelled",
					counts[types.StatusConfirmed], counts[types.StatusPending],
					counts[types.StatusRescheduled], counts[types.StatusCancelled])
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPRACTITIONER\tDATE\tTIME\tTYPE\tSTATUS")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Practitioner, r.Date, r.Time, r.Consultation, r.Badge.Label)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(out, footer)
			return nil
		},
	}
	cmd.Flags().Bool("upcoming", false, "Only appointments that are not cancelled")
	return cmd
}

func cancelCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <appointment-id>",
		Short: "Cancel an appointment",
		Long:  "Cancel an appointment.\n\n" + sharedStoreNote,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			a.warnIfEphemeral(cmd.Name())
			appt, err := a.manager.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), appt)
		},
	}
}

func rescheduleCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reschedule <appointment-id>",
		Short: "Move an appointment to another date and time",
		Long:  "Move an appointment to another date and time.\n\n" + sharedStoreNote,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			a.warnIfEphemeral(cmd.Name())
			date, _ := cmd.Flags().GetString("date")
			at, _ := cmd.Flags().GetString("time")
			appt, err := a.manager.Reschedule(cmd.Context(), args[0], date, at)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), appt)
		},
	}
	cmd.Flags().String("date", "", "New date as YYYY-MM-DD")
	cmd.Flags().String("time", "", "New time label")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("time")
	return cmd
}

func emergencyCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emergency",
		Short: "Raise an emergency case",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			flags := cmd.Flags()
			answers := make(map[string]interface{})
			for flag, key := range map[string]string{
				"urgency":  workflow.KeyUrgency,
				"patient":  workflow.KeyPatientName,
				"age":      workflow.KeyPatientAge,
				"phone":    workflow.KeyContactPhone,
				"location": workflow.KeyLocation,
				"symptoms": workflow.KeySymptoms,
				"history":  workflow.KeyMedicalHistory,
			} {
				v, _ := flags.GetString(flag)
				answers[key] = v
			}

			ctx := cmd.Context()
			inst, err := a.engine.Start(ctx, workflow.Emergency(a.catalog))
			if err != nil {
				return err
			}
			defer a.engine.Abandon(ctx, inst)
			if err := a.fill(ctx, inst, answers); err != nil {
				return err
			}

			sctx, cancel := a.submitCtx(ctx)
			defer cancel()
			var raised intake.EmergencyCase
			if _, err := a.engine.SubmitWith(sctx, inst, workflow.WithLatency(a.cfg.SubmitLatency,
				intake.EmergencySubmitter(a.generate, func(c intake.EmergencyCase) { raised = c }))); err != nil {
				return err
			}
			a.logger.Warn().Str("case", raised.ID).Str("urgency", raised.UrgencyLevel).Msg("emergency case raised")
			return printJSON(cmd.OutOrStdout(), raised)
		},
	}
	cmd.Flags().String("urgency", "", "Urgency level: "+joinIDs(catalog.Default().UrgencyLevels))
	cmd.Flags().String("patient", "", "Patient name")
	cmd.Flags().String("age", "", "Patient age")
	cmd.Flags().String("phone", "", "Contact phone")
	cmd.Flags().String("location", "", "Where the patient is")
	cmd.Flags().String("symptoms", "", "Main symptoms")
	cmd.Flags().String("history", "", "Relevant medical history")
	return cmd
}

func uploadCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a medical report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			file, err := attachment(args[0])
			if err != nil {
				return err
			}
			reportType, _ := cmd.Flags().GetString("type")
			patient, _ := cmd.Flags().GetString("patient")
			description, _ := cmd.Flags().GetString("description")

			ctx := cmd.Context()
			inst, err := a.engine.Start(ctx, workflow.UploadReport(a.catalog))
			if err != nil {
				return err
			}
			defer a.engine.Abandon(ctx, inst)
			if err := a.fill(ctx, inst, map[string]interface{}{
				workflow.KeyReportType:  reportType,
				workflow.KeyFile:        file,
				workflow.KeyPatientName: patient,
				workflow.KeyDescription: description,
			}); err != nil {
				return err
			}

			sctx, cancel := a.submitCtx(ctx)
			defer cancel()
			var filed intake.Report
			if _, err := a.engine.SubmitWith(sctx, inst, workflow.WithLatency(a.cfg.SubmitLatency,
				intake.ReportSubmitter(a.generate, func(r intake.Report) { filed = r }))); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), filed)
		},
	}
	cmd.Flags().String("type", "", "Report type: "+joinIDs(catalog.Default().ReportTypes))
	cmd.Flags().String("patient", "", "Patient name")
	cmd.Flags().String("description", "", "Optional description")
	return cmd
}

// attachment describes a local file by name, extension-derived media type
// and size.
func attachment(path string) (types.Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return types.Attachment{}, err
	}
	mediaType := mime.TypeByExtension(filepath.Ext(path))
	if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = mt
	}
	return types.Attachment{Name: filepath.Base(path), MediaType: mediaType, Size: info.Size()}, nil
}

func joinIDs(opts []catalog.Option) string {
	return strings.Join(catalog.IDs(opts), ", ")
}
