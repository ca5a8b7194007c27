package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/client"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/negotiation"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/pionlog"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/signaling"
)

const chatHelp = "Commands: /next  /quit  /mute  /video  /help"

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Join the queue and chat with a stranger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return runChat(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func runChat(ctx context.Context, in io.Reader, out io.Writer) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	api, err := negotiation.NewAPI(negotiation.APIConfig{
		LoggerFactory: pionlog.NewFactory(logger),
	})
	if err != nil {
		return err
	}
	wsURL, err := endpoint(signaling.Path)
	if err != nil {
		return err
	}

	tr := &transcript{out: out}
	tr.system("Connecting to " + flagServer + "...")
	conn, err := client.Dial(ctx, client.Options{
		URL:    wsURL,
		Origin: flagOrigin,
		UserID: flagUserID,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	chat := client.NewChat(client.ChatConfig{
		Conn:       conn,
		Interests:  flagInterests,
		API:        api,
		ICEServers: fetchICEServers(ctx),
		Media:      negotiation.SyntheticSource{Audio: true, Video: !flagNoVideo},
		Logger:     logger,
		OnEvent:    func(msg protocol.Outbound) { printEvent(tr, msg) },
		OnState: func(st negotiation.State) {
			tr.status("media: " + st.String())
		},
		OnMediaError: func(err error) {
			tr.warn(negotiation.MediaErrorMessage(err))
		},
	})

	runErr := make(chan error, 1)
	go func() { runErr <- chat.Run(ctx) }()

	if err := chat.Join(); err != nil {
		return err
	}
	tr.system(chatHelp)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case err := <-runErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("connection lost: %w", err)
			}
			return nil
		case <-ctx.Done():
			_ = chat.Disconnect()
			return nil
		case line, ok := <-lines:
			if !ok {
				_ = chat.Disconnect()
				return nil
			}
			if quit := handleInput(tr, chat, line); quit {
				_ = chat.Disconnect()
				return nil
			}
		}
	}
}

// handleInput runs one line of user input and reports whether to quit.
func handleInput(tr *transcript, chat *client.Chat, line string) bool {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return false
	case "/quit", "/exit":
		return true
	case "/help":
		tr.system(chatHelp)
	case "/next":
		if err := chat.Next(); err != nil {
			tr.alert(err.Error())
			return false
		}
		tr.system("Looking for someone new...")
	case "/mute":
		if sess := chat.Session(); sess != nil {
			if sess.ToggleAudio() {
				tr.system("Microphone on")
			} else {
				tr.system("Microphone off")
			}
		}
	case "/video":
		if sess := chat.Session(); sess != nil {
			if sess.ToggleVideo() {
				tr.system("Camera on")
			} else {
				tr.system("Camera off")
			}
		}
	default:
		if _, err := chat.SendMessage(line); err != nil {
			if errors.Is(err, client.ErrNotInRoom) {
				tr.warn("You are not chatting with anyone yet.")
				return false
			}
			tr.alert(err.Error())
			return false
		}
		tr.self(line)
	}
	return false
}

func printEvent(tr *transcript, msg protocol.Outbound) {
	switch m := msg.(type) {
	case protocol.QueueWaiting:
		tr.system(fmt.Sprintf("Looking for someone to chat with... (position %d)", m.Position))
	case protocol.MatchFound:
		tr.system("You're now chatting with a random stranger. Say hi!")
	case protocol.MessageReceive:
		// The coordinator HTML-escapes content for browser clients.
		tr.stranger(html.UnescapeString(m.Content))
	case protocol.TypingUpdate:
		if m.IsTyping {
			tr.system("Stranger is typing...")
		}
	case protocol.StrangerDisconnected:
		tr.system("Stranger has disconnected. Type /next to find someone new.")
	case protocol.Error:
		tr.alert(m.Message)
	}
}
