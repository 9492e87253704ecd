package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anteros-labs/domus/internal/chat"
	"github.com/anteros-labs/domus/internal/domain"
)

// repl reads commands from stdin until /quit or EOF.
func repl(ctx context.Context, sess *chat.Session) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}

		if !strings.HasPrefix(line, "/") {
			send(ctx, sess, line)
			fmt.Print("> ")
			continue
		}

		parts := strings.SplitN(line, " ", 2)
		arg := ""
		if len(parts) == 2 {
			arg = strings.TrimSpace(parts[1])
		}

		switch parts[0] {
		case "/help":
			fmt.Println("/list  /open <id>  /close  /dm <user-id>  /read  /who  /older  /quit")
			fmt.Println("anything not starting with / is sent to the open conversation")

		case "/list":
			for _, c := range sess.Conversations.Conversations() {
				preview := ""
				if c.LastMessage != nil {
					preview = c.LastMessage.Content
				}
				fmt.Printf("  [%s] %s (%s) unread=%d  %s\n",
					c.ID, title(c), c.Kind, sess.Conversations.Unread(c.ID), preview)
			}

		case "/open":
			if arg == "" {
				fmt.Println("usage: /open <conversation-id>")
				break
			}
			if err := sess.OpenConversation(ctx, arg); err != nil {
				fmt.Printf("open failed: %v\n", err)
				break
			}
			printHistory(sess)

		case "/close":
			sess.CloseConversation()

		case "/dm":
			if arg == "" {
				fmt.Println("usage: /dm <user-id>")
				break
			}
			conv, err := sess.StartDirect(ctx, arg)
			if err != nil {
				fmt.Printf("dm failed: %v\n", err)
				break
			}
			fmt.Printf("conversation %s ready, /open %s\n", conv.ID, conv.ID)

		case "/read":
			if id := sess.Stream.OpenID(); id != "" {
				sess.MarkRead(id)
			}

		case "/who":
			for _, id := range sess.Presence.Online() {
				fmt.Printf("  %s\n", id)
			}

		case "/older":
			if err := sess.Stream.LoadOlder(ctx); err != nil {
				fmt.Printf("load failed: %v\n", err)
				break
			}
			printHistory(sess)

		case "/quit":
			return nil

		default:
			fmt.Printf("unknown command %s\n", parts[0])
		}
		fmt.Print("> ")
	}
	return scanner.Err()
}

func send(ctx context.Context, sess *chat.Session, text string) {
	id := sess.Stream.OpenID()
	if id == "" {
		fmt.Println("no open conversation, /open one first")
		return
	}
	sess.InputActivity(id)
	if _, err := sess.SendMessage(ctx, id, "", text, nil); err != nil {
		fmt.Printf("send failed: %v\n", err)
	}
}

func printHistory(sess *chat.Session) {
	me := sess.Me().ID
	for _, section := range chat.Grouped(sess.Stream.Messages()) {
		fmt.Printf("--- %s ---\n", section.Date.Format("Mon 2 Jan 2006"))
		for _, run := range section.Runs {
			if run.System {
				fmt.Printf("  * %s\n", run.Messages[0].Content)
				continue
			}
			fmt.Printf("  %s:\n", run.Sender.DisplayName)
			for _, m := range run.Messages {
				fmt.Printf("    [%s] %s%s\n", m.CreatedAt.Format("15:04"), m.Content, glyph(m, me))
			}
		}
	}
}

// glyph renders the delivery state for the current user's own messages.
// Received messages carry no indicator.
func glyph(m domain.Message, meID string) string {
	if m.System || m.Sender.ID != meID {
		return ""
	}
	switch m.Status {
	case domain.StatusQueued:
		return " ⌛"
	case domain.StatusSent:
		return " ✓"
	case domain.StatusDelivered:
		return " ✓✓"
	case domain.StatusRead:
		return " ✓✓ (read)"
	}
	return ""
}

func printNotifications(sess *chat.Session, feed <-chan chat.Notification) {
	for n := range feed {
		switch v := n.(type) {
		case chat.ConnectionChanged:
			if v.Connected {
				fmt.Printf("\r[%s] channel connected\n> ", stamp())
			} else {
				fmt.Printf("\r[%s] channel lost, retrying...\n> ", stamp())
			}
		case chat.MessageAppended:
			fmt.Printf("\r[%s] %s: %s\n> ", stamp(), v.Message.Sender.DisplayName, v.Message.Content)
		case chat.UnreadChanged:
			if v.Unread > 0 {
				fmt.Printf("\r[%s] %s has %d unread\n> ", stamp(), v.ConversationID, v.Unread)
			}
		case chat.TypingChanged:
			if len(v.UserIDs) > 0 {
				fmt.Printf("\r[%s] typing in %s: %s\n> ", stamp(), v.ConversationID, strings.Join(v.UserIDs, ", "))
			}
		case chat.MessageStatusChanged:
			fmt.Printf("\r[%s] message %s is now %s\n> ", stamp(), v.MessageID, v.Status)
		}
	}
}

func stamp() string {
	return time.Now().Format("15:04:05")
}

func title(c domain.Conversation) string {
	names := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		names = append(names, p.DisplayName)
	}
	return strings.Join(names, ", ")
}
