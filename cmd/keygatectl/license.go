package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MacJediWizard/keygate/internal/crypto"
	"github.com/MacJediWizard/keygate/internal/license"
	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newLicenseCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Manage licenses",
	}

	cmd.AddCommand(
		newLicenseCreateCmd(c),
		newLicenseTransitionCmd(c, "suspend", "Suspend a license", license.TriggerOperatorSuspend),
		newLicenseTransitionCmd(c, "revoke", "Revoke a license permanently", license.TriggerOperatorRevoke),
		newLicenseTransitionCmd(c, "expire", "Mark a license expired", license.TriggerOperatorExpire),
		newLicenseTransitionCmd(c, "reactivate", "Reactivate a suspended or expired license", license.TriggerOperatorReactivate),
		newLicenseShowCmd(c),
	)

	return cmd
}

func newLicenseCreateCmd(c *cli) *cobra.Command {
	var (
		email       string
		name        string
		product     string
		licenseType string
		limit       int
		expires     string
		withSecret  bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a license manually",
		Example: `  keygatectl license create --email ops@example.com --product my-plugin
  keygatectl license create --email ops@example.com --product my-plugin --limit 0 --expires 2027-01-01 --with-secret`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lt, err := parseLicenseType(licenseType)
			if err != nil {
				return err
			}
			if limit < 0 {
				return errors.New("--limit must be zero (unlimited) or positive")
			}
			var expiresAt *time.Time
			if expires != "" {
				t, err := parseExpiry(expires)
				if err != nil {
					return err
				}
				expiresAt = &t
			}

			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				p, err := a.Store.GetProductBySlug(ctx, product)
				if errors.Is(err, models.ErrNotFound) {
					return fmt.Errorf("product %q not found", product)
				}
				if err != nil {
					return fmt.Errorf("get product: %w", err)
				}

				customer, err := a.Store.FindOrCreateCustomer(ctx, models.NewCustomer(email, name, ""))
				if err != nil {
					return fmt.Errorf("find or create customer: %w", err)
				}

				l := models.NewLicense(customer.ID, p.ID, lt, limit)
				l.ExpiresAt = expiresAt

				var secret string
				if withSecret {
					if secret, err = crypto.GenerateSecret(); err != nil {
						return fmt.Errorf("generate signing secret: %w", err)
					}
					if l.SigningSecretEncrypted, err = a.Encrypter.Encrypt([]byte(secret)); err != nil {
						return fmt.Errorf("encrypt signing secret: %w", err)
					}
				}

				if err := a.Licenses.Issue(ctx, c.actor(), l); err != nil {
					return fmt.Errorf("issue license: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "License issued\n")
				fmt.Fprintf(out, "  ID:       %s\n", l.ID)
				fmt.Fprintf(out, "  Key:      %s\n", l.Key)
				fmt.Fprintf(out, "  Product:  %s\n", p.Slug)
				fmt.Fprintf(out, "  Customer: %s\n", customer.Email)
				if secret != "" {
					fmt.Fprintf(out, "  Signing secret (shown once): %s\n", secret)
				}
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&email, "email", "", "Customer email (required)")
	f.StringVar(&name, "name", "", "Customer name")
	f.StringVar(&product, "product", "", "Product slug (required)")
	f.StringVar(&licenseType, "type", string(models.LicenseTypeLifetime), "License type: lifetime or subscription")
	f.IntVar(&limit, "limit", 1, "Activation limit, 0 for unlimited")
	f.StringVar(&expires, "expires", "", "Expiry as RFC 3339 or YYYY-MM-DD (UTC)")
	f.BoolVar(&withSecret, "with-secret", false, "Generate a per-license request signing secret")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("product")

	return cmd
}

func newLicenseTransitionCmd(c *cli, use, short string, trigger license.Trigger) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <license-id|license-key>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				l, err := findLicense(ctx, a.Store, args[0])
				if err != nil {
					return err
				}

				updated, err := a.Licenses.ChangeStatus(ctx, c.actor(), l.ID, trigger)
				if errors.Is(err, license.ErrInvalidTransition) {
					return fmt.Errorf("cannot %s a %s license", use, l.Status)
				}
				if err != nil {
					return fmt.Errorf("%s license: %w", use, err)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "License %s: %s -> %s\n", updated.ID, l.Status, updated.Status)
				return nil
			})
		},
	}
}

func newLicenseShowCmd(c *cli) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <license-id|license-key>",
		Short: "Show a license and its activations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				l, err := findLicense(ctx, a.Store, args[0])
				if err != nil {
					return err
				}
				activations, err := a.Store.ListActivations(ctx, l.ID)
				if err != nil {
					return fmt.Errorf("list activations: %w", err)
				}

				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(map[string]any{
						"license":     l,
						"activations": activations,
					})
				}

				customer, err := a.Store.GetCustomerByID(ctx, l.CustomerID)
				if err != nil && !errors.Is(err, models.ErrNotFound) {
					return fmt.Errorf("get customer: %w", err)
				}
				printLicense(cmd.OutOrStdout(), l, customer, activations)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

// findLicense resolves ref as a license id first and then as a license key.
func findLicense(ctx context.Context, store Store, ref string) (*models.License, error) {
	id, err := uuid.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("invalid license reference %q: expected a UUID", ref)
	}

	l, err := store.GetLicenseByID(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		l, err = store.GetLicenseByKey(ctx, id)
	}
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("license %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}
	return l, nil
}

func printLicense(out io.Writer, l *models.License, customer *models.Customer, activations []*models.Activation) {
	fmt.Fprintf(out, "ID:          %s\n", l.ID)
	fmt.Fprintf(out, "Key:         %s\n", l.Key)
	fmt.Fprintf(out, "Status:      %s\n", l.Status)
	fmt.Fprintf(out, "Type:        %s\n", l.Type)
	if customer != nil {
		fmt.Fprintf(out, "Customer:    %s\n", customer.Email)
	}
	if l.ExpiresAt != nil {
		fmt.Fprintf(out, "Expires:     %s\n", l.ExpiresAt.UTC().Format(time.RFC3339))
	} else {
		fmt.Fprintf(out, "Expires:     never\n")
	}
	if l.HasUnlimitedActivations() {
		fmt.Fprintf(out, "Activations: %d (unlimited)\n", countActive(activations))
	} else {
		fmt.Fprintf(out, "Activations: %d of %d\n", countActive(activations), l.ActivationLimit)
	}
	if l.ExternalSubscriptionID != "" {
		fmt.Fprintf(out, "Subscription: %s\n", l.ExternalSubscriptionID)
	}

	if len(activations) == 0 {
		return
	}
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DOMAIN\tACTIVE\tDEV\tACTIVATED\tLAST CHECK")
	for _, act := range activations {
		lastCheck := "-"
		if act.LastCheckedAt != nil {
			lastCheck = act.LastCheckedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%t\t%t\t%s\t%s\n",
			act.Domain, act.IsActive, act.IsDevelopment, act.ActivatedAt.UTC().Format(time.RFC3339), lastCheck)
	}
	_ = w.Flush()
}

func countActive(activations []*models.Activation) int {
	n := 0
	for _, act := range activations {
		if act.IsActive {
			n++
		}
	}
	return n
}

func parseLicenseType(s string) (models.LicenseType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(models.LicenseTypeLifetime):
		return models.LicenseTypeLifetime, nil
	case string(models.LicenseTypeSubscription):
		return models.LicenseTypeSubscription, nil
	default:
		return "", fmt.Errorf("--type must be lifetime or subscription, got %q", s)
	}
}

func parseExpiry(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--expires must be RFC 3339 or YYYY-MM-DD, got %q", s)
	}
	return t.UTC(), nil
}
