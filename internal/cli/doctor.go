package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leadloft/leadloft/internal/config"
	"github.com/leadloft/leadloft/internal/store"
)

func newDoctorCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the configuration and environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(flags)
		},
	}
}

type check struct {
	name string
	ok   bool
	note string
}

func runDoctor(flags *GlobalFlags) error {
	var checks []check
	failed := false

	cfg, _, err := loadConfig(flags)
	if err != nil {
		printCheck(check{name: "configuration", ok: false, note: err.Error()})
		return fmt.Errorf("doctor found problems")
	}
	checks = append(checks, check{name: "configuration", ok: true})

	checks = append(checks, checkDatabase(cfg))
	checks = append(checks, checkOAuthClient(cfg))
	checks = append(checks, checkPush(cfg))
	checks = append(checks, checkIntake(cfg))
	checks = append(checks, checkAlerts(cfg))

	for _, c := range checks {
		printCheck(c)
		if !c.ok {
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("doctor found problems")
	}
	fmt.Println("\nall checks passed")
	return nil
}

func checkDatabase(cfg *config.Config) check {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return check{name: "database", ok: false, note: err.Error()}
	}
	defer s.Close()

	creds, err := s.ListCredentials()
	if err != nil {
		return check{name: "database", ok: false, note: err.Error()}
	}
	return check{name: "database", ok: true, note: fmt.Sprintf("%d credential(s) at %s", len(creds), cfg.Database.Path)}
}

func checkOAuthClient(cfg *config.Config) check {
	if cfg.Google.ClientID == "" {
		return check{name: "oauth client", ok: false, note: "google.client_id is not set; the connect flow cannot run"}
	}
	return check{name: "oauth client", ok: true, note: "redirect " + cfg.Google.RedirectURL}
}

func checkPush(cfg *config.Config) check {
	if cfg.Google.PubSubTopic == "" {
		return check{name: "push topic", ok: false, note: "google.pubsub_topic is not set; watches cannot be armed"}
	}
	return check{name: "push topic", ok: true, note: cfg.Google.PubSubTopic}
}

func checkIntake(cfg *config.Config) check {
	if cfg.Intake.WebhookURL == "" {
		return check{name: "intake webhook", ok: true, note: "not configured, store sink only"}
	}
	return check{name: "intake webhook", ok: true, note: cfg.Intake.WebhookURL}
}

func checkAlerts(cfg *config.Config) check {
	if !cfg.Alerts.Enabled {
		return check{name: "alerts", ok: true, note: "disabled"}
	}
	if cfg.Alerts.TelegramToken == "" {
		return check{name: "alerts", ok: false, note: "enabled but no telegram token"}
	}
	return check{name: "alerts", ok: true, note: fmt.Sprintf("telegram chat %d", cfg.Alerts.TelegramChatID)}
}

func printCheck(c check) {
	mark := "✓"
	if !c.ok {
		mark = "✗"
	}
	if c.note != "" {
		fmt.Printf("%s %-16s %s\n", mark, c.name, c.note)
	} else {
		fmt.Printf("%s %s\n", mark, c.name)
	}
}
