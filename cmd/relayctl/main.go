package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/teresa-solution/guild-relay-service/internal/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var Version = "dev"

type globalFlags struct {
	addr        string
	tenantID    string
	userID      string
	displayName string
	admin       bool
	asJSON      bool
	timeout     time.Duration
}

func main() {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "relayctl",
		Short:         "relayctl - command client for the guild relay service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.addr, "addr", "localhost:50051", "Command service address")
	pf.StringVar(&flags.tenantID, "tenant", "", "Tenant (guild) ID")
	pf.StringVar(&flags.userID, "user", "", "Calling user ID")
	pf.StringVar(&flags.displayName, "name", "", "Calling user display name")
	pf.BoolVar(&flags.admin, "admin", false, "Caller has administrator permissions")
	pf.BoolVarP(&flags.asJSON, "json", "j", false, "Print the full result as JSON")
	pf.DurationVar(&flags.timeout, "timeout", 30*time.Second, "Request timeout")

	rootCmd.AddCommand(provisionCmd(flags))
	rootCmd.AddCommand(cleanupCmd(flags))
	rootCmd.AddCommand(configureCmd(flags))
	rootCmd.AddCommand(settingsCmd(flags))
	rootCmd.AddCommand(pollCmd(flags))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func provisionCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "provision [introduction|help]",
		Short: "Create a private channel for the calling user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := flags.caller()
			req["purpose"] = args[0]
			return flags.call(cmd.Context(), api.MethodProvision, req)
		},
	}
}

func cleanupCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup [channel-id]",
		Short: "Delete a provisioned channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := flags.caller()
			req["channel_id"] = args[0]
			return flags.call(cmd.Context(), api.MethodCleanup, req)
		},
	}
}

func configureCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "configure [field] [value]",
		Short: "Validate and store one tenant setting",
		Long: `Fields:
  private_channel_container_id  category for private channels (alias: category)
  admin_recipients              comma-separated member IDs or names (alias: admins)
  feed_enabled                  true, false or toggle (alias: feed)
  feed_delivery_channel_id      text channel for feed posts (alias: feed_channel)`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := flags.caller()
			req["field"] = args[0]
			req["value"] = args[1]
			return flags.call(cmd.Context(), api.MethodConfigure, req)
		},
	}
}

func settingsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show the settings menu",
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.call(cmd.Context(), api.MethodSettingsMenu, flags.caller())
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "begin [field]",
		Short: "Open a settings form and print its session ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := flags.caller()
			req["field"] = args[0]
			return flags.call(cmd.Context(), api.MethodBeginSetting, req)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "submit [session-id] [value]",
		Short: "Submit a value for an open settings form",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := flags.caller()
			req["session_id"] = args[0]
			req["value"] = args[1]
			return flags.call(cmd.Context(), api.MethodSubmitSetting, req)
		},
	})
	return cmd
}

func pollCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run a feed poll cycle now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.call(cmd.Context(), api.MethodTriggerPoll, map[string]any{})
		},
	}
}

func (f *globalFlags) caller() map[string]any {
	return map[string]any{
		"tenant_id":    f.tenantID,
		"user_id":      f.userID,
		"display_name": f.displayName,
		"is_admin":     f.admin,
	}
}

func (f *globalFlags) call(ctx context.Context, method string, req map[string]any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	conn, err := grpc.NewClient(f.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connect %s: %w", f.addr, err)
	}
	defer conn.Close()

	out, err := api.NewCommandClient(conn).Call(ctx, method, req)
	if err != nil {
		return err
	}

	if f.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		printResult(out)
	}

	if ok, _ := out["ok"].(bool); !ok {
		return fmt.Errorf("%s failed: %v", method, out["code"])
	}
	return nil
}

func printResult(out map[string]any) {
	fmt.Println(out["message"])

	if menu, ok := out["menu"].(map[string]any); ok {
		options, _ := menu["options"].([]any)
		for _, o := range options {
			opt, _ := o.(map[string]any)
			fmt.Printf("  %-30v %-28v current: %v\n", opt["field"], opt["label"], opt["current"])
		}
	}
	if form, ok := out["form"].(map[string]any); ok {
		fmt.Printf("  session:     %v\n", form["session_id"])
		fmt.Printf("  placeholder: %v\n", form["placeholder"])
		fmt.Printf("  current:     %v\n", form["default"])
	}
	if invalid, ok := out["invalid"].([]any); ok && len(invalid) > 0 {
		fmt.Printf("  invalid: %v\n", invalid)
	}
	if report, ok := out["report"].(map[string]any); ok {
		fmt.Printf("  cycle %v: fetched=%v tenants=%v delivered=%v failed=%v\n",
			report["id"], report["fetched"], report["tenants"], report["delivered"], report["failed"])
	}
}
