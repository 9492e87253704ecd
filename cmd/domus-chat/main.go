package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anteros-labs/domus/internal/auth"
	"github.com/anteros-labs/domus/internal/chat"
	"github.com/anteros-labs/domus/internal/config"
	"github.com/anteros-labs/domus/internal/domain"
	"github.com/anteros-labs/domus/internal/transport/rest"
	"github.com/anteros-labs/domus/internal/transport/ws"
)

var token string

func main() {
	rootCmd := &cobra.Command{
		Use:   "domus-chat",
		Short: "Terminal client for the Domus condominium messenger",
		RunE:  run,
	}

	rootCmd.Flags().StringVarP(&token, "token", "t", "", "bearer token issued by the Domus backend (required)")
	rootCmd.MarkFlagRequired("token")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ident, err := auth.ParseIdentity(token)
	if err != nil {
		return fmt.Errorf("cannot start without a valid token: %w", err)
	}
	me := domain.UserSummary{ID: ident.UserID, DisplayName: ident.DisplayName}

	api := rest.NewClient(cfg.APIBaseURL, token)
	conn := ws.NewConn(cfg.ChannelURL, token)

	sess := chat.NewSession(me, api, conn, chat.SessionConfig{
		PageSize:     cfg.PageSize,
		TypingIdle:   cfg.TypingIdle,
		TypingExpiry: cfg.TypingExpiry,
	})

	notifications, cancel := sess.Notifications()
	defer cancel()

	sess.Start()
	defer sess.Close()

	ctx := cmd.Context()
	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("connecting channel: %w", err)
	}
	if err := sess.Load(ctx); err != nil {
		return err
	}

	go printNotifications(sess, notifications)

	fmt.Printf("Signed in as %s. Type /help for commands.\n", me.DisplayName)
	return repl(context.Background(), sess)
}
