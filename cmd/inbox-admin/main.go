// ABOUTME: Operator CLI for the inboxd HTTP API
// ABOUTME: Queue inspection, agent management, and assignment actions

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/relaydesk/inbox-core/internal/auth"
)

const banner = `
 _       _                            _           _
(_)_ __ | |__   _____  __      __ _  __| |_ __ ___ (_)_ __
| | '_ \| '_ \ / _ \ \/ /____ / _' |/ _' | '_ ' _ \| | '_ \
| | | | | |_) | (_) >  <_____| (_| | (_| | | | | | | | | | |
|_|_| |_|_.__/ \___/_/\_\     \__,_|\__,_|_| |_| |_|_|_| |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("INBOX_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	token := os.Getenv("INBOX_TOKEN")

	c := &client{baseURL: baseURL, token: token}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "queue":
		err = cmdQueue(c)
	case "agents":
		err = cmdAgents(c, args)
	case "claim":
		err = cmdClaim(c, args)
	case "release":
		err = cmdRelease(c, args)
	case "close":
		err = cmdClose(c, args)
	case "token":
		err = cmdToken(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: inbox-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  queue                       List queued and active conversations")
	fmt.Println("  agents                      List agents")
	fmt.Println("  agents create               Register a new agent")
	fmt.Println("  claim <conversation-id>     Claim a conversation for your agent")
	fmt.Println("  release <conversation-id>   Return a conversation to the queue")
	fmt.Println("  close <assignment-id>       Close an assignment")
	fmt.Println("  token create --agent ID     Generate a JWT token for an agent")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  INBOX_URL           Server base URL (default: http://localhost:8080)")
	fmt.Println("  INBOX_TOKEN         JWT authentication token (required)")
	fmt.Println("  INBOX_JWT_SECRET    Signing secret (only for: token create)")
	fmt.Println()
}

// client is a thin JSON client over the inboxd API
type client struct {
	baseURL string
	token   string
}

func (c *client) do(method, path string, body, out any) error {
	if c.token == "" {
		return fmt.Errorf("INBOX_TOKEN environment variable is required")
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func cmdQueue(c *client) error {
	var resp struct {
		Conversations []struct {
			ConversationID string     `json:"conversation_id"`
			DisplayName    string     `json:"display_name"`
			Status         string     `json:"status"`
			AgentID        *string    `json:"agent_id"`
			UnreadCount    int        `json:"unread_count"`
			LastMessageAt  *time.Time `json:"last_message_at"`
		} `json:"conversations"`
	}
	if err := c.do(http.MethodGet, "/api/conversations", nil, &resp); err != nil {
		return err
	}

	if len(resp.Conversations) == 0 {
		fmt.Println("Queue is empty.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tNAME\tSTATUS\tAGENT\tUNREAD\tLAST MESSAGE")
	fmt.Fprintln(w, "  --\t----\t------\t-----\t------\t------------")

	for _, conv := range resp.Conversations {
		agent := "-"
		if conv.AgentID != nil {
			agent = truncate(*conv.AgentID, 20)
		}
		last := "-"
		if conv.LastMessageAt != nil {
			last = conv.LastMessageAt.Format("Jan 02 15:04")
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%d\t%s\n",
			truncate(conv.ConversationID, 12),
			truncate(conv.DisplayName, 24),
			conv.Status, agent, conv.UnreadCount, last)
	}
	w.Flush()
	fmt.Println()

	return nil
}

func cmdAgents(c *client, args []string) error {
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "list", "ls":
		return cmdAgentsList(c)
	case "create", "add":
		return cmdAgentsCreate(c, args)
	default:
		return fmt.Errorf("unknown agents subcommand: %s", subcmd)
	}
}

func cmdAgentsList(c *client) error {
	var resp struct {
		Agents []struct {
			ID                 string `json:"id"`
			DisplayName        string `json:"display_name"`
			DepartmentID       string `json:"department_id"`
			MaxConcurrentChats int    `json:"max_concurrent_chats"`
			IsOnline           bool   `json:"is_online"`
		} `json:"agents"`
	}
	if err := c.do(http.MethodGet, "/api/agents", nil, &resp); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tNAME\tDEPARTMENT\tCAP\tONLINE")
	fmt.Fprintln(w, "  --\t----\t----------\t---\t------")

	for _, a := range resp.Agents {
		online := color.RedString("no")
		if a.IsOnline {
			online = color.GreenString("yes")
		}
		dept := a.DepartmentID
		if dept == "" {
			dept = "-"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%d\t%s\n",
			truncate(a.ID, 12), truncate(a.DisplayName, 24), dept, a.MaxConcurrentChats, online)
	}
	w.Flush()
	fmt.Println()

	return nil
}

func cmdAgentsCreate(c *client, args []string) error {
	var userRef, name, department string
	maxChats := 5

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--user", "-u":
			if i+1 < len(args) {
				userRef = args[i+1]
				i++
			}
		case "--name", "-n":
			if i+1 < len(args) {
				name = args[i+1]
				i++
			}
		case "--department", "-d":
			if i+1 < len(args) {
				department = args[i+1]
				i++
			}
		case "--max-chats", "-m":
			if i+1 < len(args) {
				parsed, err := strconv.Atoi(args[i+1])
				if err != nil {
					return fmt.Errorf("invalid --max-chats value: %s", args[i+1])
				}
				maxChats = parsed
				i++
			}
		}
	}

	if userRef == "" || name == "" {
		return fmt.Errorf("--user and --name are required")
	}

	var created struct {
		ID string `json:"id"`
	}
	err := c.do(http.MethodPost, "/api/agents", map[string]any{
		"user_ref":             userRef,
		"display_name":         name,
		"department_id":        department,
		"max_concurrent_chats": maxChats,
	}, &created)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Agent created: %s\n", created.ID)
	return nil
}

func cmdClaim(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: inbox-admin claim <conversation-id>")
	}

	var a struct {
		ID      string  `json:"id"`
		AgentID *string `json:"agent_id"`
		Status  string  `json:"status"`
	}
	if err := c.do(http.MethodPost, "/api/conversations/"+args[0]+"/claim", struct{}{}, &a); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Claimed: assignment %s is now %s\n", a.ID, a.Status)
	return nil
}

func cmdRelease(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: inbox-admin release <conversation-id>")
	}

	if err := c.do(http.MethodPost, "/api/conversations/"+args[0]+"/release", struct{}{}, nil); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Println("Released back to the queue")
	return nil
}

func cmdClose(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: inbox-admin close <assignment-id>")
	}

	err := c.do(http.MethodPost, "/api/assignments/"+args[0]+"/status",
		map[string]string{"status": "closed"}, nil)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Println("Assignment closed")
	return nil
}

func cmdToken(args []string) error {
	if len(args) < 1 || args[0] != "create" {
		return fmt.Errorf("usage: inbox-admin token create --agent ID [--department ID] [--admin]")
	}
	args = args[1:]

	secret := os.Getenv("INBOX_JWT_SECRET")
	if secret == "" {
		return fmt.Errorf("INBOX_JWT_SECRET environment variable is required")
	}

	var agentID, department string
	var admin bool
	expiry := 30 * 24 * time.Hour

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--agent", "-a":
			if i+1 < len(args) {
				agentID = args[i+1]
				i++
			}
		case "--department", "-d":
			if i+1 < len(args) {
				department = args[i+1]
				i++
			}
		case "--admin":
			admin = true
		case "--expiry", "-e":
			if i+1 < len(args) {
				parsed, err := time.ParseDuration(args[i+1])
				if err != nil {
					return fmt.Errorf("invalid --expiry value: %s", args[i+1])
				}
				expiry = parsed
				i++
			}
		}
	}

	if agentID == "" {
		return fmt.Errorf("--agent is required")
	}

	verifier := auth.NewJWTVerifier([]byte(secret))
	token, err := verifier.Generate(&auth.Principal{
		AgentID:      agentID,
		DepartmentID: department,
		Admin:        admin,
	}, expiry)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
