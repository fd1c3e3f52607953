package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaycrew/chatrelay/internal/config"
	"github.com/relaycrew/chatrelay/internal/store"
	"github.com/relaycrew/chatrelay/internal/store/file"
	dbsql "github.com/relaycrew/chatrelay/internal/store/sql"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage forwarding jobs offline (the running server does this live over the Control API)",
	}
	cmd.AddCommand(jobsListCmd())
	cmd.AddCommand(jobsCreateCmd())
	cmd.AddCommand(jobsDeleteCmd())
	return cmd
}

func openJobStore() (store.JobStore, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.Mode == "sql" {
		s, err := dbsql.NewStore(cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		return s.Jobs(), nil
	}
	s, err := file.NewStore(cfg.Database.FileDir)
	if err != nil {
		return nil, err
	}
	return s.Jobs(), nil
}

func jobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every durable job record",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobStore, err := openJobStore()
			if err != nil {
				return err
			}
			jobs, err := jobStore.List()
			if err != nil {
				return err
			}
			fmt.Printf("%-20s %-20s %-10s %s -> %s\n", "ID", "NAME", "STATUS", "SOURCE", "TARGET")
			for _, j := range jobs {
				fmt.Printf("%-20s %-20s %-10s %s -> %s\n", j.ID, j.Name, j.Status, j.SourceRef, j.TargetRef)
			}
			return nil
		},
	}
}

func jobsCreateCmd() *cobra.Command {
	var id, name, sourceRef, targetRef string
	var accountIDs []string
	var allMedia, textOnly bool
	var perMinute, interMessageDelay int

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pending job record (start it with the Control API's jobs.start)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" || sourceRef == "" || targetRef == "" || len(accountIDs) == 0 {
				return fmt.Errorf("--id, --source, --target, and at least one --account are required")
			}
			jobStore, err := openJobStore()
			if err != nil {
				return err
			}
			job := store.Job{
				ID:             id,
				Name:           name,
				SourceRef:      sourceRef,
				TargetRef:      targetRef,
				AccountIDs:     accountIDs,
				FilterPolicyID: id,
				FilterPolicy:   store.FilterPolicySpec{AllMedia: allMedia, TextOnly: textOnly},
				Status:         store.JobPending,
				Rate: store.RateParams{
					InterMessageDelaySeconds: interMessageDelay,
					MaxPerMinutePerAccount:   perMinute,
				},
			}
			if err := jobStore.Create(job); err != nil {
				return err
			}
			fmt.Printf("created job %s (pending); start it via the Control API once the server is running\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "job id (required)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&sourceRef, "source", "", "source chat reference (required)")
	cmd.Flags().StringVar(&targetRef, "target", "", "target chat reference (required)")
	cmd.Flags().StringArrayVar(&accountIDs, "account", nil, "account id to use for this job (repeatable)")
	cmd.Flags().BoolVar(&allMedia, "all-media", false, "forward text and every media kind")
	cmd.Flags().BoolVar(&textOnly, "text-only", false, "forward text messages only")
	cmd.Flags().IntVar(&perMinute, "per-minute", 0, "per-account send cap override (0 = governor default)")
	cmd.Flags().IntVar(&interMessageDelay, "delay-seconds", 0, "base inter-message delay in seconds")
	return cmd
}

func jobsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a job's durable record (the job must not be running)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobStore, err := openJobStore()
			if err != nil {
				return err
			}
			return jobStore.Delete(args[0])
		},
	}
}
