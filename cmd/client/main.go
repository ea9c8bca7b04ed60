package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tunnel-chat/client"
	"tunnel-chat/utils"
)

// roomKeys holds the encryption keys disclosed through ROOM_JOINED, so
// chat in encrypted rooms can be sealed before it leaves the terminal
// and unsealed on arrival. The server only ever sees ciphertext.
type roomKeys struct {
	mu   sync.Mutex
	keys map[string]string
}

func newRoomKeys() *roomKeys {
	return &roomKeys{keys: make(map[string]string)}
}

func (r *roomKeys) set(roomID, key string) {
	if roomID == "" || key == "" {
		return
	}
	r.mu.Lock()
	r.keys[roomID] = key
	r.mu.Unlock()
}

func (r *roomKeys) get(roomID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[roomID]
	return key, ok
}

// outgoingChat prepares one line for a room: sealed with the room key
// when one is known, plaintext otherwise.
func outgoingChat(keys *roomKeys, roomID, line string) (string, bool, error) {
	key, ok := keys.get(roomID)
	if !ok {
		return line, false, nil
	}
	sealed, err := utils.EncryptMessage(line, key)
	if err != nil {
		return "", false, err
	}
	return sealed, true, nil
}

// renderChat turns an inbound CHAT event into display text, unsealing
// encrypted payloads when the room key is known.
func renderChat(keys *roomKeys, data map[string]interface{}) string {
	message, _ := data["message"].(string)
	if encrypted, _ := data["isEncrypted"].(bool); !encrypted {
		return message
	}

	roomID, _ := data["roomId"].(string)
	key, ok := keys.get(roomID)
	if !ok {
		return "[encrypted message - no room key]"
	}
	plaintext, err := utils.DecryptMessage(message, key)
	if err != nil {
		return "[encrypted message - cannot decrypt]"
	}
	return plaintext
}

var rootCmd = &cobra.Command{
	Use:   "tunnel-chat-client",
	Short: "Terminal client for the tunnel-chat relay",
	Long: `Connects to a tunnel-chat relay over websocket, joins a room and
relays lines from stdin as chat messages. Dropped connections are retried
automatically with a growing backoff.`,
	RunE: run,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("url", "ws://localhost:8080/ws", "relay websocket URL")
	flags.String("token", "", "bearer token from /api/auth/login")
	flags.String("username", "", "guest username (used when no token is set)")
	flags.String("room", "General", "room to join on connect")
	flags.Duration("base-delay", 3*time.Second, "first reconnect delay; grows per attempt")
	flags.Int("max-attempts", 5, "reconnect attempts before giving up")

	viper.SetEnvPrefix("TUNNEL_CHAT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.BindPFlags(flags)
}

func run(cmd *cobra.Command, args []string) error {
	token := viper.GetString("token")
	username := viper.GetString("username")
	if token == "" && username == "" {
		return fmt.Errorf("either --token or --username is required")
	}

	c := client.New(client.Config{
		URL:         viper.GetString("url"),
		Token:       token,
		Username:    username,
		BaseDelay:   viper.GetDuration("base-delay"),
		MaxAttempts: viper.GetInt("max-attempts"),
	})

	keys := newRoomKeys()
	registerPrinters(c, keys)

	done := make(chan struct{})
	c.AddListener(client.EventReconnectFailed, func(e client.Event) {
		fmt.Println("* gave up reconnecting")
		close(done)
	})

	if err := c.Connect(); err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	defer c.Disconnect()

	room := viper.GetString("room")
	if err := c.JoinRoom(room); err != nil {
		return fmt.Errorf("join failed: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-sig:
			return nil
		case <-done:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			room = dispatch(c, keys, room, line)
			if room == "" {
				return nil
			}
		}
	}
}

// dispatch handles one input line, returning the (possibly changed)
// current room, or "" to quit.
func dispatch(c *client.Client, keys *roomKeys, room, line string) string {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return room
	case line == "/quit" || line == "/exit":
		return ""
	case strings.HasPrefix(line, "/join "):
		next := strings.TrimSpace(strings.TrimPrefix(line, "/join "))
		if err := c.JoinRoom(next); err != nil {
			fmt.Printf("* join failed: %v\n", err)
			return room
		}
		return next
	case strings.HasPrefix(line, "/leave"):
		if err := c.LeaveRoom(room); err != nil {
			fmt.Printf("* leave failed: %v\n", err)
		}
		return room
	default:
		payload, encrypted, err := outgoingChat(keys, room, line)
		if err != nil {
			fmt.Printf("* encrypt failed: %v\n", err)
			return room
		}
		if err := c.Chat(room, payload, encrypted); err != nil {
			fmt.Printf("* send failed: %v\n", err)
		}
		return room
	}
}

func registerPrinters(c *client.Client, keys *roomKeys) {
	c.AddListener("CHAT", func(e client.Event) {
		fmt.Printf("[%v] %v: %v\n", e.Data["roomId"], e.Data["sender"], renderChat(keys, e.Data))
	})
	c.AddListener("USER_JOINED", func(e client.Event) {
		fmt.Printf("* %v joined (%v online)\n", e.Data["username"], e.Data["activeUsers"])
	})
	c.AddListener("USER_LEFT", func(e client.Event) {
		fmt.Printf("* %v left (%v online)\n", e.Data["username"], e.Data["activeUsers"])
	})
	c.AddListener("ROOM_JOINED", func(e client.Event) {
		roomID, _ := e.Data["roomId"].(string)
		if key, ok := e.Data["encryptionKey"].(string); ok {
			keys.set(roomID, key)
		}
		fmt.Printf("* joined %v (%v online)\n", e.Data["roomName"], e.Data["activeUsers"])
	})
	c.AddListener("FILE_SHARED", func(e client.Event) {
		fmt.Printf("* %v shared a file in %v\n", e.Data["username"], e.Data["roomId"])
	})
	c.AddListener("ERROR", func(e client.Event) {
		fmt.Printf("! %v\n", e.Data["error"])
	})
	c.AddListener(client.EventReconnecting, func(e client.Event) {
		fmt.Printf("* reconnecting (attempt %v/%v in %v)\n",
			e.Data["attempt"], e.Data["maxAttempts"], e.Data["delay"])
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
