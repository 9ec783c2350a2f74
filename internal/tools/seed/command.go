package seed

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/convospace/convospace-api/internal/config"
	"github.com/convospace/convospace-api/internal/database"
	"github.com/convospace/convospace-api/internal/tools/common"
)

type options struct {
	envFile           string
	bootstrapEmail    string
	bootstrapPassword string
	ci                bool
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "seed", Short: "Database migration and seed tooling"}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "path to env file")
	cmd.PersistentFlags().StringVar(&opts.bootstrapEmail, "bootstrap-email", "", "bootstrap account email")
	cmd.PersistentFlags().StringVar(&opts.bootstrapPassword, "bootstrap-password", "", "bootstrap account password")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "machine-readable output")
	cmd.AddCommand(newMigrateCommand(opts), newApplyCommand(opts), newVerifyEmailCommand(opts))
	return cmd
}

func newMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := func() ([]string, error) {
				_, db, err := loadConfigDB(opts.envFile)
				if err != nil {
					return nil, err
				}
				if err := database.Migrate(db); err != nil {
					return nil, err
				}
				return []string{"schema migrated"}, nil
			}()
			return finish(opts, "seed migrate", details, err)
		},
	}
}

func newApplyCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Migrate and create the bootstrap account",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := func() ([]string, error) {
				_, db, err := loadConfigDB(opts.envFile)
				if err != nil {
					return nil, err
				}
				if err := database.Migrate(db); err != nil {
					return nil, err
				}
				if err := database.Seed(db, opts.bootstrapEmail, opts.bootstrapPassword); err != nil {
					return nil, err
				}
				details := []string{"schema migrated"}
				if opts.bootstrapEmail != "" {
					details = append(details, "bootstrap account ensured: "+strings.ToLower(opts.bootstrapEmail))
				}
				return details, nil
			}()
			return finish(opts, "seed apply", details, err)
		},
	}
}

func newVerifyEmailCommand(opts *options) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "verify-email",
		Short: "Mark an account's email as verified",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := func() ([]string, error) {
				if strings.TrimSpace(email) == "" {
					return nil, fmt.Errorf("email is required")
				}
				_, db, err := loadConfigDB(opts.envFile)
				if err != nil {
					return nil, err
				}
				if err := database.VerifyEmail(db, email); err != nil {
					return nil, err
				}
				return []string{"marked verified: " + strings.TrimSpace(strings.ToLower(email))}, nil
			}()
			return finish(opts, "seed verify-email", details, err)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email to mark verified")
	return cmd
}

func finish(opts *options, title string, details []string, err error) error {
	if opts.ci {
		common.PrintCIResult(err == nil, title, details, err)
		if err != nil {
			os.Exit(3)
		}
		return nil
	}
	if err != nil {
		return err
	}
	for _, d := range details {
		fmt.Println(d)
	}
	return nil
}

func loadConfigDB(envFile string) (*config.Config, *gorm.DB, error) {
	if err := common.LoadEnvFile(envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}
