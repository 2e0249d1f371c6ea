// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/genai"

	"github.com/healthnav/healthnav/healthnav"
	"github.com/healthnav/healthnav/memory"
	"github.com/healthnav/healthnav/pkg/logging"
	"github.com/healthnav/healthnav/runner"
	"github.com/healthnav/healthnav/session"
	"github.com/healthnav/healthnav/types"
)

func newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("HEALTHNAV")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "healthnav",
		Short:         "Health navigator: travel, chronic care, medication and misinformation help",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default healthnav.yaml in the working directory)")
	flags.String("db", "", "SQLite session database path (empty keeps sessions in memory)")
	flags.String("model", "", "model name (gemini-* or claude-*)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("stream", false, "stream partial model output")
	for _, name := range []string{"db", "model", "log-level", "stream"} {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cfgFile, _ := flags.GetString("config"); cfgFile != "" {
			v.SetConfigFile(cfgFile)
		} else {
			v.SetConfigName("healthnav")
			v.SetConfigType("yaml")
			v.AddConfigPath(".")
		}
		if err := v.ReadInConfig(); err != nil {
			cfgFile, _ := flags.GetString("config")
			var notFound viper.ConfigFileNotFoundError
			if cfgFile != "" || !errors.As(err, &notFound) {
				return fmt.Errorf("read config: %w", err)
			}
		}
		return nil
	}

	root.AddCommand(newChatCommand(v))
	root.AddCommand(newStateCommand(v))
	return root
}

func appConfig(v *viper.Viper) healthnav.Config {
	return healthnav.Config{
		GeminiAPIKey:         v.GetString("gemini-api-key"),
		AnthropicAPIKey:      v.GetString("anthropic-api-key"),
		ModelName:            v.GetString("model"),
		SearchAPIKey:         v.GetString("search-api-key"),
		HealthSearchEngineID: v.GetString("health-search-engine-id"),
		WebSearchEngineID:    v.GetString("web-search-engine-id"),
		TuGoAPIKey:           v.GetString("tugo-api-key"),
	}
}

func newSessionService(ctx context.Context, v *viper.Viper) (types.SessionService, func() error, error) {
	dbPath := v.GetString("db")
	if dbPath == "" {
		return session.NewInMemoryService(), func() error { return nil }, nil
	}
	svc, err := session.NewSQLiteService(ctx, dbPath)
	if err != nil {
		return nil, nil, err
	}
	return svc, svc.Close, nil
}

func newChatCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with the health navigator",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger(parseLevel(v.GetString("log-level")))
			ctx := logging.NewContext(cmd.Context(), logger)

			app, err := healthnav.New(ctx, appConfig(v))
			if err != nil {
				return err
			}

			sessionSvc, closeSvc, err := newSessionService(ctx, v)
			if err != nil {
				return err
			}
			defer closeSvc()

			runCfg := types.DefaultRunConfig()
			runCfg.Streaming = v.GetBool("stream")
			r := runner.New(healthnav.AppName, app.Root, sessionSvc,
				runner.WithMemoryService(memory.NewInMemoryService()),
				runner.WithRunConfig(runCfg),
				runner.WithLogger(logger),
			)

			userID := v.GetString("user")
			if userID == "" {
				userID = "cli-user"
			}
			sessionID := "session-" + uuid.NewString()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Health Navigator\nSession: %s\nType a question, '/state' to inspect state, or 'exit'.\n\n", sessionID)

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "you> ")
				if !scanner.Scan() {
					break
				}
				line := strings.TrimSpace(scanner.Text())
				switch {
				case line == "":
					continue
				case line == "exit" || line == "quit":
					return nil
				case line == "/state":
					printSessionState(ctx, out, sessionSvc, userID, sessionID)
					continue
				}

				message := genai.NewContentFromText(line, genai.RoleUser)
				streamed := false
				for event, err := range r.Run(ctx, userID, sessionID, message) {
					if err != nil {
						fmt.Fprintf(out, "error: %v\n", err)
						break
					}
					switch {
					case event.Partial:
						if event.Text() != "" {
							if !streamed {
								fmt.Fprintf(out, "%s> ", event.Author)
								streamed = true
							}
							fmt.Fprint(out, event.Text())
						}
					case event.IsFinalResponse() && event.Text() != "":
						if streamed {
							fmt.Fprintln(out)
							streamed = false
						} else {
							fmt.Fprintf(out, "%s> %s\n", event.Author, event.Text())
						}
					}
				}
			}
			return scanner.Err()
		},
	}
	cmd.Flags().String("user", "cli-user", "user ID for the conversation")
	v.BindPFlag("user", cmd.Flags().Lookup("user"))
	return cmd
}

func newStateCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state <user-id> <session-id>",
		Short: "Print the stored state of a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sessionSvc, closeSvc, err := newSessionService(ctx, v)
			if err != nil {
				return err
			}
			defer closeSvc()

			ses, err := sessionSvc.GetSession(ctx, healthnav.AppName, args[0], args[1], nil)
			if err != nil {
				return err
			}
			if ses == nil {
				return fmt.Errorf("session %s not found for user %s", args[1], args[0])
			}

			blob, err := sonic.ConfigDefault.MarshalIndent(ses.State(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(blob))
			return nil
		},
	}
	return cmd
}

func printSessionState(ctx context.Context, out io.Writer, svc types.SessionService, userID, sessionID string) {
	ses, err := svc.GetSession(ctx, healthnav.AppName, userID, sessionID, nil)
	if err != nil || ses == nil {
		fmt.Fprintf(out, "(no stored session yet)\n")
		return
	}
	state := ses.State()
	if len(state) == 0 {
		fmt.Fprintf(out, "(empty)\n")
		return
	}
	blob, err := sonic.ConfigDefault.MarshalIndent(state, "", "  ")
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "%s\n", blob)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
