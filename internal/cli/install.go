package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/y0rik/pwsh-azure/internal/automation"
	"github.com/y0rik/pwsh-azure/internal/azure"
	"github.com/y0rik/pwsh-azure/internal/config"
	"github.com/y0rik/pwsh-azure/internal/gallery"
	"github.com/y0rik/pwsh-azure/internal/installer"
	"github.com/y0rik/pwsh-azure/internal/planner"
	"github.com/y0rik/pwsh-azure/internal/resolver"
)

var installFlags struct {
	configPath    string
	account       string
	resourceGroup string
	module        string
	moduleVersion string
	repository    string
	resolveOnly   bool
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Resolve a module's dependency tree and import it into an account",
	Long: `Resolve the named module and every transitive dependency from the
gallery, plan the import order, and submit the imports phase by phase.
Each phase waits for all of its modules to reach a terminal provisioning
state before the next phase starts.

With --resolve-only the plan is printed and nothing is submitted.`,
	RunE: runInstall,
}

func init() {
	f := installCmd.Flags()
	f.StringVarP(&installFlags.configPath, "config", "c", "", "Config file path (credentials may also come from AZURE_* env vars)")
	f.StringVar(&installFlags.account, "account", "", "Automation account name")
	f.StringVarP(&installFlags.resourceGroup, "resource-group", "g", "", "Resource group of the automation account")
	f.StringVarP(&installFlags.module, "module", "m", "", "Module to install")
	f.StringVar(&installFlags.moduleVersion, "module-version", "", "Exact module version (default: latest)")
	f.StringVar(&installFlags.repository, "repository", "PSGallery", "Gallery repository name")
	f.BoolVar(&installFlags.resolveOnly, "resolve-only", false, "Print the plan without importing anything")

	_ = installCmd.MarkFlagRequired("module")

	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(installFlags.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg := gallery.NewClient(cfg.Repositories)
	res := resolver.New(reg)

	constraint := gallery.DependencySpec{Name: installFlags.module, Kind: gallery.ConstraintLatest}
	if installFlags.moduleVersion != "" {
		constraint.Kind = gallery.ConstraintExact
		constraint.Version = installFlags.moduleVersion
	}

	entries, err := res.Resolve(cmd.Context(), installFlags.module, installFlags.repository, constraint)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", installFlags.module, err)
	}

	phases := planner.Plan(entries)
	installer.WriteTable(os.Stdout, phases)

	if installFlags.resolveOnly {
		return nil
	}

	if installFlags.account == "" || installFlags.resourceGroup == "" {
		return fmt.Errorf("--account and --resource-group are required to import")
	}
	if err := cfg.ValidateAzure(); err != nil {
		return err
	}

	session, err := azure.NewSession(cfg.SubscriptionID, cfg.TenantID, cfg.ClientID, cfg.ClientSecret)
	if err != nil {
		return fmt.Errorf("azure session: %w", err)
	}
	prov := automation.NewClient(session, installFlags.resourceGroup, installFlags.account)

	exec := installer.New(prov, reg)
	runErr := exec.Run(cmd.Context(), phases)

	// Final statuses, including the partial state after a failed phase.
	installer.WriteTable(os.Stdout, phases)
	return runErr
}
