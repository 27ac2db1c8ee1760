package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hashitfit/coach/internal/agent"
	"github.com/hashitfit/coach/internal/chatlog"
)

var (
	chatUser    string
	chatJSON    bool
	historyUser string
	historyN    int
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send one message to the user's coach and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChat,
}

var chatHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show a user's recent chat turns, oldest first",
	RunE:  runChatHistory,
}

func init() {
	chatCmd.Flags().StringVar(&chatUser, "user", "", "user id (required)")
	chatCmd.Flags().BoolVar(&chatJSON, "json", false, "print the reply with thread and run ids as JSON")
	_ = chatCmd.MarkFlagRequired("user")

	chatHistoryCmd.Flags().StringVar(&historyUser, "user", "", "user id (required)")
	chatHistoryCmd.Flags().IntVar(&historyN, "limit", chatlog.DefaultHistory, "maximum turns to show")
	_ = chatHistoryCmd.MarkFlagRequired("user")

	chatCmd.AddCommand(chatHistoryCmd)
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "chat")
	defer span.End()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	env, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	reply, err := env.service.Chat(ctx, agent.ChatRequest{UserID: chatUser, Message: strings.Join(args, " ")})
	if err != nil {
		return err
	}
	if chatJSON {
		return printJSON(cmd.OutOrStdout(), reply)
	}
	fmt.Fprintln(cmd.OutOrStdout(), reply.Reply)
	return nil
}

func runChatHistory(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "chat.history")
	defer span.End()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	msgs, err := chatlog.New(db).History(ctx, historyUser, historyN)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(msgs) == 0 {
		fmt.Fprintf(out, "No chat history for %s.\n", historyUser)
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tROLE\tMESSAGE")
	for _, m := range msgs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.CreatedAt.Format("2006-01-02 15:04"), m.Role, truncate(m.Content, 80))
	}
	return w.Flush()
}
