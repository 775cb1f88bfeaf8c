package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/foxzi/mailcast/internal/models"
	"github.com/foxzi/mailcast/internal/store"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load provider, templates, recipients and campaigns from a YAML fixture",
	Long: `Load a YAML fixture directly into the storage file named by the config.
The server must be stopped while seeding because the database is locked while it runs.`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "fixture file (required)")
	seedCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(seedCmd)
}

// Fixture is the seed file layout
type Fixture struct {
	Provider   *models.ProviderConfig `yaml:"provider"`
	Templates  []*models.Template     `yaml:"templates"`
	Recipients []*models.Recipient    `yaml:"recipients"`
	Campaigns  []*models.Campaign     `yaml:"campaigns"`
}

type seedResult struct {
	provider   bool
	templates  int
	recipients int
	campaigns  int
	skipped    []string
}

func loadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}

	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	return &f, nil
}

// seedStore writes f into st. Existing campaigns are left untouched and
// reported as skipped, everything else is created or replaced.
func seedStore(ctx context.Context, st *store.Storage, f *Fixture) (*seedResult, error) {
	res := &seedResult{}

	if f.Provider != nil {
		if err := f.Provider.Validate(); err != nil {
			return nil, fmt.Errorf("invalid provider: %w", err)
		}
		f.Provider.IsConfigured = true
		if err := st.PutProviderConfig(ctx, f.Provider); err != nil {
			return nil, err
		}
		res.provider = true
	}

	for _, t := range f.Templates {
		if err := st.PutTemplate(ctx, t); err != nil {
			return nil, fmt.Errorf("template %q: %w", t.Name, err)
		}
		res.templates++
	}

	for _, r := range f.Recipients {
		if err := st.PutRecipient(ctx, r); err != nil {
			return nil, fmt.Errorf("recipient %q: %w", r.ID, err)
		}
		res.recipients++
	}

	for _, c := range f.Campaigns {
		if c.ID != "" {
			exists, err := st.CampaignExists(ctx, c.ID)
			if err != nil {
				return nil, err
			}
			if exists {
				res.skipped = append(res.skipped, c.ID)
				continue
			}
		}
		if err := st.CreateCampaign(ctx, c); err != nil {
			return nil, fmt.Errorf("campaign %q: %w", c.Name, err)
		}
		res.campaigns++
	}

	return res, nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fixture, err := loadFixture(seedFile)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open storage (is the server running?): %w", err)
	}
	defer st.Close()

	res, err := seedStore(cmd.Context(), st, fixture)
	if err != nil {
		return err
	}

	fmt.Printf("Seeded %s\n", cfg.Storage.Path)
	if res.provider {
		fmt.Printf("  Provider: %s\n", fixture.Provider.Provider)
	}
	fmt.Printf("  Templates: %d\n", res.templates)
	fmt.Printf("  Recipients: %d\n", res.recipients)
	fmt.Printf("  Campaigns: %d\n", res.campaigns)
	for _, id := range res.skipped {
		fmt.Printf("  Skipped existing campaign %s\n", id)
	}
	return nil
}
