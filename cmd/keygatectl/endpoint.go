package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"text/tabwriter"

	"github.com/MacJediWizard/keygate/internal/crypto"
	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/spf13/cobra"
)

const minEndpointSecretLength = 16

func newEndpointCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "endpoint",
		Aliases: []string{"endpoints"},
		Short:   "Manage webhook endpoints",
	}
	cmd.AddCommand(newEndpointAddCmd(c), newEndpointListCmd(c))
	return cmd
}

func newEndpointAddCmd(c *cli) *cobra.Command {
	var (
		name   string
		rawURL string
		secret string
		events []string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a webhook endpoint",
		Long: `Register a webhook endpoint. Deliveries are signed with the endpoint
secret; when --secret is omitted one is generated and printed once.`,
		Example: `  keygatectl endpoint add --name crm --url https://crm.example.com/hooks --events license.created,license.revoked`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := url.Parse(rawURL)
			if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
				return errors.New("--url must be an absolute http or https URL")
			}

			eventTypes, err := parseEventTypes(events)
			if err != nil {
				return err
			}

			generated := secret == ""
			if generated {
				if secret, err = crypto.GenerateSecret(); err != nil {
					return fmt.Errorf("generate endpoint secret: %w", err)
				}
			} else if len(secret) < minEndpointSecretLength {
				return fmt.Errorf("--secret must be at least %d characters", minEndpointSecretLength)
			}

			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				sealed, err := a.Encrypter.Encrypt([]byte(secret))
				if err != nil {
					return fmt.Errorf("encrypt endpoint secret: %w", err)
				}

				endpoint := models.NewWebhookEndpoint(name, rawURL, sealed, eventTypes)
				if err := a.Store.CreateWebhookEndpoint(ctx, endpoint); err != nil {
					a.Auditor.Record(ctx, c.actor(), models.AuditActionEndpointCreate, "webhook_endpoint",
						endpoint.ID, models.AuditResultFailure, map[string]any{"url": rawURL, "error": err.Error()})
					return fmt.Errorf("create endpoint: %w", err)
				}
				a.Auditor.Record(ctx, c.actor(), models.AuditActionEndpointCreate, "webhook_endpoint",
					endpoint.ID, models.AuditResultSuccess, map[string]any{"url": rawURL, "name": name})

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Endpoint %s registered for %d event type(s)\n", endpoint.ID, len(eventTypes))
				if generated {
					fmt.Fprintf(out, "  Secret (shown once): %s\n", secret)
				}
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&name, "name", "", "Endpoint name (required)")
	f.StringVar(&rawURL, "url", "", "Delivery URL (required)")
	f.StringVar(&secret, "secret", "", "Signing secret, at least 16 characters (generated when empty)")
	f.StringSliceVar(&events, "events", nil, "Event types to subscribe to, or \"all\" (required)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("events")

	return cmd
}

func newEndpointListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List webhook endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				endpoints, err := a.Store.ListWebhookEndpoints(ctx)
				if err != nil {
					return fmt.Errorf("list endpoints: %w", err)
				}
				if len(endpoints) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No webhook endpoints registered")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tURL\tACTIVE\tEVENTS")
				for _, ep := range endpoints {
					names := make([]string, len(ep.EventTypes))
					for i, et := range ep.EventTypes {
						names[i] = string(et)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", ep.ID, ep.Name, ep.URL, ep.Active, strings.Join(names, ","))
				}
				return w.Flush()
			})
		},
	}
}

func parseEventTypes(values []string) ([]models.WebhookEventType, error) {
	var eventTypes []models.WebhookEventType
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if v == "all" {
			return models.AllWebhookEventTypes(), nil
		}
		et := models.WebhookEventType(v)
		if !et.IsValid() {
			return nil, fmt.Errorf("unknown event type %q", v)
		}
		eventTypes = append(eventTypes, et)
	}
	if len(eventTypes) == 0 {
		return nil, errors.New("at least one event type is required")
	}
	return eventTypes, nil
}
