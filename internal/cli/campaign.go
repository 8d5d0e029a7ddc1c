package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/offerpage/offerpage/internal/campaign"
	"github.com/offerpage/offerpage/internal/dispatch"
	"github.com/offerpage/offerpage/internal/offer"
)

// campaignFile is the YAML document read by "campaign send".
type campaignFile struct {
	ID       string            `yaml:"id"`
	Template campaign.Template `yaml:"template"`

	// Offer fills offer fields a lead leaves out.
	Offer offer.Record    `yaml:"offer"`
	Leads []campaign.Lead `yaml:"leads"`
}

func readCampaignFile(path string) (*campaignFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read campaign: %w", err)
	}
	var cf campaignFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse campaign %s: %w", path, err)
	}
	if !cf.Template.Channel.Valid() {
		return nil, fmt.Errorf("campaign %s: template channel must be sms, email or voice", path)
	}
	return &cf, nil
}

func init() {
	campaignCmd := &cobra.Command{
		Use:   "campaign",
		Short: "Render and send campaign messages",
	}
	campaignCmd.AddCommand(newCampaignSendCmd())
	rootCmd.AddCommand(campaignCmd)
}

func newCampaignSendCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "send <campaign.yaml>",
		Short: "Render a template for each lead and queue the messages",
		Long: `Render the campaign template for every lead and queue the results.

Templates use {first_name} style placeholders or Liquid. Available
variables: first_name, last_name, email, phone, address, cash_offer,
company_name, agent_name.

Example campaign.yaml:
  id: spring-2025
  template:
    id: intro
    channel: sms
    body: "Hi {first_name}, {company_name} can offer {cash_offer} for {address}."
  leads:
    - id: l1
      first_name: Dana
      phone: "+15125550100"
      address: 123 Main St
      offer:
        min_offer_amount: 100000
        max_offer_amount: 120000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cf, err := readCampaignFile(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			renderer := campaign.NewRenderer(campaign.Sender{
				CompanyName: cfg.Campaign.CompanyName,
				AgentName:   cfg.Campaign.AgentName,
			})

			payloads, skipped, err := buildCampaign(renderer, cf)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range skipped {
				fmt.Fprintf(out, "skip %s\n", s)
			}

			if dryRun {
				for _, p := range payloads {
					fmt.Fprintf(out, "--- %s %s\n", p.Channel, p.To)
					if p.Subject != "" {
						fmt.Fprintf(out, "Subject: %s\n", p.Subject)
					}
					fmt.Fprintln(out, p.Body)
				}
				return nil
			}

			return withQueue(func(ctx context.Context, q *dispatch.Queue) error {
				for _, p := range payloads {
					if _, err := q.Enqueue(ctx, p); err != nil {
						return err
					}
				}
				fmt.Fprintf(out, "Queued %d messages for campaign %s\n", len(payloads), cf.ID)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print rendered messages without queueing")
	return cmd
}

// buildCampaign renders every lead. Leads without an address for the
// channel are reported in skipped.
func buildCampaign(r *campaign.Renderer, cf *campaignFile) (payloads []dispatch.Payload, skipped []string, err error) {
	for _, lead := range cf.Leads {
		lead.Offer = lead.Offer.Merge(cf.Offer)
		p, err := r.Build(lead, cf.Template)
		if err != nil {
			if errors.Is(err, campaign.ErrNoRecipient) {
				skipped = append(skipped, lead.ID)
				continue
			}
			return nil, nil, err
		}
		p.CampaignID = cf.ID
		payloads = append(payloads, p)
	}
	return payloads, skipped, nil
}
