package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/jobs"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/store"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/syncer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var errAdminSecretRequired = errors.New("admin.signing_secret is required to issue admin tokens")

func newAdminTokenCommand() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Issue an admin token for privileged HTTP routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			if !rt.config.AdminAuthEnabled() {
				return errAdminSecretRequired
			}

			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(rt.config.AdminSigningSecret),
				TokenTTL:      rt.config.AdminTokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueAdminToken(cmd.Context(), subject)
			if err != nil {
				return err
			}
			rt.logger.Info("admin token issued", zap.String("subject", subject), zap.Int64("expires_in_s", expiresIn))
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "Subject recorded in the token")
	return cmd
}

type jobInput struct {
	id    string
	title string
	raw   string
	apply string
}

func newPostJobCommand() *cobra.Command {
	var input jobInput
	cmd := &cobra.Command{
		Use:   "post-job",
		Short: "Create or replace a job posting",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			id, err := postJob(cmd.Context(), rt.docs, input)
			if err != nil {
				return err
			}
			rt.logger.Info("job posted", zap.String("job_id", id))
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&input.id, "id", "", "Job id; generated when empty")
	cmd.Flags().StringVar(&input.title, "title", "", "Job title")
	cmd.Flags().StringVar(&input.raw, "raw", "", "Newline-delimited description")
	cmd.Flags().StringVar(&input.apply, "apply", "", "Apply link")
	return cmd
}

func newAnnounceCommand() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "announce",
		Short: "Set the board announcement; empty text clears it",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := announce(cmd.Context(), rt.docs, text); err != nil {
				return err
			}
			rt.logger.Info("announcement updated", zap.Int("length", len(text)))
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "Announcement text")
	return cmd
}

// postJob writes a job document with zeroed counters and a server-assigned creation time.
func postJob(ctx context.Context, client store.Client, input jobInput) (string, error) {
	if strings.TrimSpace(input.title) == "" && strings.TrimSpace(input.raw) == "" {
		return "", errors.New("post-job needs a title or a description")
	}
	fields := store.Fields{
		jobs.FieldTitle:     strings.TrimSpace(input.title),
		jobs.FieldRaw:       input.raw,
		jobs.FieldApply:     strings.TrimSpace(input.apply),
		jobs.FieldViews:     0,
		jobs.FieldApplies:   0,
		jobs.FieldCreatedAt: store.ServerTimestamp(),
	}
	id := strings.TrimSpace(input.id)
	if id == "" {
		return client.AddDocument(ctx, jobs.CollectionName, fields)
	}
	if err := client.SetDocument(ctx, jobs.DocumentPath(id), fields); err != nil {
		return "", err
	}
	return id, nil
}

func announce(ctx context.Context, client store.Client, text string) error {
	return client.SetDocument(ctx, syncer.AnnouncementPath, store.Fields{syncer.AnnouncementTextField: strings.TrimSpace(text)})
}
