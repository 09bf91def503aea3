package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/btcpaydir/nwc-billing/internal/api"
	"github.com/btcpaydir/nwc-billing/internal/config"
	directorydb "github.com/btcpaydir/nwc-billing/internal/database"
	"github.com/btcpaydir/nwc-billing/internal/guard"
	"github.com/btcpaydir/nwc-billing/internal/logger"
	"github.com/btcpaydir/nwc-billing/internal/nwc"
	"github.com/btcpaydir/nwc-billing/internal/payments"
)

var rootCmd = &cobra.Command{
	Use:   "nwc-billing",
	Short: "NWC credential vault and recurring Lightning billing",
	Long:  `Stores encrypted Nostr Wallet Connect credentials for directory subscriptions and drives recurring Lightning payments over them.`,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(processPaymentsCmd)
	rootCmd.AddCommand(issueTokenCmd)
}

func initConfig() {
	if err := config.LoadConfig(); err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	if err := config.ValidateSecrets(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	if err := logger.Init(viper.GetString("log_file")); err != nil {
		log.Fatalf("Error initializing logger: %v", err)
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Run: func(cmd *cobra.Command, args []string) {
		app, err := buildApp()
		if err != nil {
			log.Fatalf("Error initializing application: %v", err)
		}

		app.guard.StartCleanup(viper.GetDuration("rate_limit_cleanup_interval"))
		defer app.guard.Stop()
		app.nonces.StartSweep(viper.GetDuration("rate_limit_cleanup_interval"), guard.TokenTTL)
		defer app.nonces.StopSweep()
		defer logger.Cleanup()

		server := api.NewServer(app.credentials, app.guard, app.scheduler, app.store)
		if err := server.Start(); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	},
}

var processPaymentsCmd = &cobra.Command{
	Use:   "process-payments",
	Short: "Run one recurring-payment batch and exit",
	Long:  `Processes every subscription currently due. Intended to be invoked periodically by cron or a systemd timer.`,
	Run: func(cmd *cobra.Command, args []string) {
		app, err := buildApp()
		if err != nil {
			log.Fatalf("Error initializing application: %v", err)
		}
		defer logger.Cleanup()

		results, err := app.scheduler.ProcessAllDuePayments(context.Background())
		if err != nil {
			log.Fatalf("Batch failed: %v", err)
		}

		succeeded := 0
		for _, res := range results {
			if res.Success {
				succeeded++
			} else {
				fmt.Printf("subscription %d failed: %s\n", res.SubscriptionID, res.Error)
			}
		}
		fmt.Printf("Processed %d subscriptions, %d succeeded\n", len(results), succeeded)
	},
}

var issueTokenCmd = &cobra.Command{
	Use:   "issue-token [principal-id] [operation]",
	Short: "Issue a signed short-lived operation token",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		var principalID uint
		if _, err := fmt.Sscanf(args[0], "%d", &principalID); err != nil {
			log.Fatalf("Invalid principal id: %v", err)
		}

		op := guard.Operation(args[1])
		switch op {
		case guard.OpStore, guard.OpAccess, guard.OpRemove, guard.OpPayment:
		default:
			log.Fatalf("Unknown operation %q", args[1])
		}

		g := guard.NewGuard(viper.GetString("signing_secret"))
		token, err := g.IssueToken(principalID, op)
		if err != nil {
			log.Fatalf("Error issuing token: %v", err)
		}

		fmt.Println(token)
	},
}

type app struct {
	store       *directorydb.Store
	credentials *nwc.CredentialStore
	guard       *guard.Guard
	nonces      *directorydb.NonceStore
	scheduler   *payments.Scheduler
}

func buildApp() (*app, error) {
	store, err := directorydb.NewStore(viper.GetString("db_path"))
	if err != nil {
		return nil, err
	}

	cipher, err := nwc.NewCipher(viper.GetString("master_secret"))
	if err != nil {
		return nil, err
	}

	credentials := nwc.NewCredentialStore(store, cipher)

	g := guard.NewGuard(viper.GetString("signing_secret"))
	g.SetIPPolicy(blockedIPPolicy(viper.GetStringSlice("blocked_ips")))
	applyRateLimits(g)

	nonces, err := directorydb.NewNonceStore(viper.GetString("nonce_db_path"))
	if err != nil {
		return nil, err
	}
	g.SetNonceRegistry(nonces)

	resolver := payments.NewResolver(viper.GetDuration("lnurl_timeout"))
	relay := payments.NewNostrRelayClient(viper.GetDuration("relay_timeout"))
	dispatcher := payments.NewDispatcher(store, credentials, resolver, relay)
	dispatcher.SetPaymentGate(g)
	scheduler := payments.NewScheduler(store, dispatcher)

	return &app{
		store:       store,
		credentials: credentials,
		guard:       g,
		nonces:      nonces,
		scheduler:   scheduler,
	}, nil
}

func blockedIPPolicy(blocked []string) func(string) bool {
	if len(blocked) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(blocked))
	for _, ip := range blocked {
		set[ip] = struct{}{}
	}
	return func(ip string) bool {
		_, found := set[ip]
		return !found
	}
}

func applyRateLimits(g *guard.Guard) {
	for _, op := range []guard.Operation{guard.OpStore, guard.OpAccess, guard.OpRemove, guard.OpPayment} {
		key := "rate_limits." + string(op)
		if viper.IsSet(key + ".hourly") {
			g.SetLimits(op, guard.Limits{
				Hourly: viper.GetInt(key + ".hourly"),
				Daily:  viper.GetInt(key + ".daily"),
			})
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
