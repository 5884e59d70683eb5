package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/parleychat/parley/ai"
	"github.com/parleychat/parley/ai/metrics"
	"github.com/parleychat/parley/chat"
	"github.com/parleychat/parley/internal/profile"
	"github.com/parleychat/parley/internal/version"
	"github.com/parleychat/parley/store"
	"github.com/parleychat/parley/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "A dual-provider AI chat client with persistent, live-reconciled history.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Ignore a missing .env; explicit environment always wins.
		_ = godotenv.Load()
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:        viper.GetString("mode"),
			Data:        viper.GetString("data"),
			Driver:      viper.GetString("driver"),
			DSN:         viper.GetString("dsn"),
			ChatMode:    viper.GetString("chat-mode"),
			MetricsAddr: viper.GetString("metrics-addr"),
			Version:     version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			panic(err)
		}

		ctx := context.Background()
		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			slog.Error("failed to create db driver", "error", err)
			return
		}

		storeInstance := store.New(dbDriver, instanceProfile)
		defer storeInstance.Close()
		if err := storeInstance.Migrate(ctx); err != nil {
			slog.Error("failed to migrate", "error", err)
			return
		}

		m := metrics.New(nil)
		if instanceProfile.MetricsAddr != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", m.Handler())
				if err := http.ListenAndServe(instanceProfile.MetricsAddr, mux); err != nil {
					slog.Error("metrics endpoint failed", "error", err)
				}
			}()
		}

		session, err := chat.NewSession(chat.Config{
			Store: storeInstance,
			Remote: ai.NewRemoteProvider(ai.RemoteConfig{
				APIKey:  instanceProfile.RemoteAPIKey,
				BaseURL: instanceProfile.RemoteBaseURL,
				Model:   instanceProfile.RemoteModel,
				Timeout: time.Duration(instanceProfile.RemoteTimeout) * time.Second,
			}),
			Local: ai.NewLocalProvider(ai.LocalConfig{
				BaseURL: instanceProfile.LocalBaseURL,
				Model:   instanceProfile.LocalModel,
			}),
			Mode:    chat.ParseMode(instanceProfile.ChatMode),
			Metrics: m,
		})
		if err != nil {
			slog.Error("failed to create session", "error", err)
			return
		}
		if err := session.Open(ctx); err != nil {
			slog.Error("failed to open session", "error", err)
			return
		}
		defer session.Close()

		printGreetings(instanceProfile, session)
		runPrompt(ctx, session)
	},
}

// runPrompt is a minimal line-oriented front end around the session. It is
// intentionally thin; everything interesting happens in the chat package.
func runPrompt(ctx context.Context, session *chat.Session) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			return
		case line == "/reset":
			if err := session.Reset(ctx); err != nil {
				fmt.Printf("reset failed: %v\n", err)
			}
		case line == "/new":
			if err := session.NewConversation(ctx); err != nil {
				fmt.Printf("new conversation failed: %v\n", err)
			}
		case strings.HasPrefix(line, "/mode"):
			arg := strings.TrimSpace(strings.TrimPrefix(line, "/mode"))
			if arg == "" {
				fmt.Printf("mode: %s (local available: %t)\n", session.Mode(), session.Available())
				break
			}
			if err := session.SetMode(ctx, chat.Mode(arg)); err != nil {
				fmt.Printf("mode switch failed: %v\n", err)
			}
		default:
			if err := session.Send(ctx, line, nil); err != nil {
				fmt.Printf("send failed: %v\n", err)
				break
			}
			msgs := session.Messages()
			if len(msgs) > 0 {
				last := msgs[len(msgs)-1]
				fmt.Printf("[%s] %s\n", last.Model, last.Text)
			}
		}
		fmt.Print("> ")
	}
}

func printGreetings(profile *profile.Profile, session *chat.Session) {
	fmt.Printf("Parley %s started successfully!\n", profile.Version)
	if profile.IsDev() {
		fmt.Fprintf(os.Stderr, "Development mode is enabled\nDatabase: %s\n", profile.DSN)
	}
	desc := session.Describe()
	fmt.Printf("Conversation: %s\n", session.Conversation().Title)
	fmt.Printf("Provider: %s (%s), vision: %t\n", desc.Kind, desc.Model, desc.SupportsVision)
	fmt.Println(`Commands: /mode [online|offline], /reset, /new, /quit`)
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of the client, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")
	rootCmd.PersistentFlags().String("chat-mode", "", `starting chat mode, "online" or "offline"`)
	rootCmd.PersistentFlags().String("metrics-addr", "", "optional address for the Prometheus metrics endpoint")

	for _, key := range []string{"mode", "data", "driver", "dsn", "chat-mode", "metrics-addr"} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("parley")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
