// chatloom-feed replays a chat fixture over a websocket at a controlled
// rate, standing in for the live feed during development and demos.
package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/loomlabs/chatloom/conversations"
)

type fixture struct {
	Messages []fixtureMessage `json:"messages"`
}

type fixtureMessage struct {
	User    string `json:"user"`
	Message string `json:"message"`
}

var (
	fixturePath string
	listenAddr  string
	perSecond   float64
	loop        bool
)

var rootCmd = &cobra.Command{
	Use:   "chatloom-feed",
	Short: "Replays a chat fixture over a websocket for local development.",
	RunE: func(_ *cobra.Command, _ []string) error {
		payload, err := os.ReadFile(fixturePath)
		if err != nil {
			return err
		}
		var fx fixture
		if err := json.Unmarshal(payload, &fx); err != nil {
			return err
		}

		slog.Info("feed_listening", "addr", listenAddr,
			"messages", len(fx.Messages), "rate", perSecond)
		http.HandleFunc("/", serveFeed(fx))
		return http.ListenAndServe(listenAddr, nil)
	},
}

func serveFeed(fx fixture) http.HandlerFunc {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("upgrade_failed", "error", err)
			return
		}
		defer conn.Close()
		slog.Info("client_connected", "remote", conn.RemoteAddr())

		limiter := rate.NewLimiter(rate.Limit(perSecond), 1)
		seq := 0
		for {
			for _, m := range fx.Messages {
				if err := limiter.Wait(r.Context()); err != nil {
					return
				}
				seq++
				frame := conversations.Message{
					SeqID: seq,
					TS:    time.Now().UTC(),
					User:  m.User,
					Text:  m.Message,
				}
				if err := conn.WriteJSON(frame); err != nil {
					slog.Info("client_gone", "error", err)
					return
				}
			}
			if !loop {
				break
			}
		}

		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "fixture replayed"))
		slog.Info("fixture_replayed", "frames", seq)
	}
}

func init() {
	rootCmd.Flags().StringVar(&fixturePath, "fixture", "", "path to the fixture json file")
	rootCmd.Flags().StringVar(&listenAddr, "addr", ":8765", "listen address")
	rootCmd.Flags().Float64Var(&perSecond, "rate", 5, "messages per second")
	rootCmd.Flags().BoolVar(&loop, "loop", false, "replay the fixture forever")
	rootCmd.MarkFlagRequired("fixture")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("feed failed", "error", err)
		os.Exit(1)
	}
}
