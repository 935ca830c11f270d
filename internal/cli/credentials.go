package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/leadloft/leadloft/internal/models"
	"github.com/leadloft/leadloft/internal/store"
)

func newCredentialsCommand(flags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Inspect and manage stored mailbox credentials",
	}
	cmd.AddCommand(newCredentialsListCommand(flags))
	cmd.AddCommand(newCredentialsShowCommand(flags))
	cmd.AddCommand(newCredentialsDeleteCommand(flags))
	return cmd
}

func openStore(flags *GlobalFlags) (store.Store, error) {
	cfg, _, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(cfg.Database.Path)
}

func newCredentialsListCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(flags)
			if err != nil {
				return err
			}
			defer s.Close()

			creds, err := s.ListCredentials()
			if err != nil {
				return err
			}

			if flags.JSON {
				return json.NewEncoder(os.Stdout).Encode(summaries(creds))
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "AGENT\tPROVIDER\tEMAIL\tCONNECTED\tWATCHING\tTOKEN EXPIRY")
			for _, cred := range creds {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%s\n",
					cred.AgentID,
					cred.Provider,
					cred.ConnectedEmail,
					cred.Connected(),
					cred.Watching(),
					formatTime(cred.Expiry))
			}
			return w.Flush()
		},
	}
}

func newCredentialsShowCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <agent_id>",
		Short: "Show one credential in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(flags)
			if err != nil {
				return err
			}
			defer s.Close()

			cred, err := s.GetCredential(args[0], models.ProviderGoogle)
			if err != nil {
				return err
			}

			if flags.JSON {
				return json.NewEncoder(os.Stdout).Encode(summarize(cred))
			}

			fmt.Printf("Agent:            %s\n", cred.AgentID)
			fmt.Printf("Provider:         %s\n", cred.Provider)
			fmt.Printf("Connected email:  %s\n", cred.ConnectedEmail)
			fmt.Printf("Connected:        %t\n", cred.Connected())
			fmt.Printf("Scope:            %s\n", cred.Scope)
			fmt.Printf("Token expiry:     %s\n", formatTime(cred.Expiry))
			fmt.Printf("History cursor:   %s\n", cred.HistoryID)
			fmt.Printf("Watch expiration: %s\n", formatTime(cred.WatchExpiration))
			fmt.Printf("Updated:          %s\n", formatTime(cred.UpdatedAt))
			return nil
		},
	}
}

func newCredentialsDeleteCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <agent_id>",
		Short: "Delete a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(flags)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.DeleteCredential(args[0], models.ProviderGoogle); err != nil {
				return err
			}
			fmt.Printf("credential for agent %s deleted\n", args[0])
			return nil
		},
	}
}

// credentialSummary is the JSON output shape, secrets omitted.
type credentialSummary struct {
	AgentID         string    `json:"agent_id"`
	Provider        string    `json:"provider"`
	ConnectedEmail  string    `json:"connected_email"`
	Connected       bool      `json:"connected"`
	Watching        bool      `json:"watching"`
	Scope           string    `json:"scope,omitempty"`
	TokenExpiry     time.Time `json:"token_expiry"`
	HistoryID       string    `json:"history_id,omitempty"`
	WatchExpiration time.Time `json:"watch_expiration"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func summarize(cred *models.Credential) credentialSummary {
	return credentialSummary{
		AgentID:         cred.AgentID,
		Provider:        cred.Provider,
		ConnectedEmail:  cred.ConnectedEmail,
		Connected:       cred.Connected(),
		Watching:        cred.Watching(),
		Scope:           cred.Scope,
		TokenExpiry:     cred.Expiry,
		HistoryID:       cred.HistoryID,
		WatchExpiration: cred.WatchExpiration,
		UpdatedAt:       cred.UpdatedAt,
	}
}

func summaries(creds []*models.Credential) []credentialSummary {
	out := make([]credentialSummary, 0, len(creds))
	for _, cred := range creds {
		out = append(out, summarize(cred))
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
