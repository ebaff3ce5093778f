// ABOUTME: Interactive terminal client for the cocoGate chat gateway.
// ABOUTME: Provides login, chat, and API key management over the HTTP API.

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/cocogate/gate-client/internal/api"
	"github.com/cocogate/gate-client/internal/auth"
	"github.com/cocogate/gate-client/internal/chat"
	"github.com/cocogate/gate-client/internal/config"
	"github.com/cocogate/gate-client/internal/credstore"
	"github.com/cocogate/gate-client/internal/guard"
	"github.com/cocogate/gate-client/internal/keys"
	"github.com/cocogate/gate-client/internal/session"
)

var version = "dev"

const banner = `
                        ____       _
     ___ ___   ___ ___ / ___| __ _| |_ ___
    / __/ _ \ / __/ _ \ |  _ / _` + "`" + ` | __/ _ \
   | (_| (_) | (_| (_) | |_| | (_| | ||  __/
    \___\___/ \___\___/\____| \__,_|\__\___|
`

// getConfigPath returns the config file location.
// Priority: GATE_CONFIG env var > XDG_CONFIG_HOME/cocogate/config.yaml > ~/.config/cocogate/config.yaml
func getConfigPath() string {
	if path := os.Getenv("GATE_CONFIG"); path != "" {
		return path
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "cocogate", "config.yaml")
}

func main() {
	configPath := flag.String("config", "", "Config file path (default: XDG config dir)")
	profileName := flag.String("profile", "", "Named server profile from profiles.toml")
	server := flag.String("server", "", "Server URL, overrides config and profile")
	flag.Parse()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	if err := run(*configPath, *profileName, *server); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

func run(configPath, profileName, serverOverride string) error {
	// Load configuration; a missing default file means defaults apply
	if configPath == "" {
		configPath = getConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = config.Default()
	}

	// Resolve the server URL: flag > profile > config
	baseURL := cfg.Server.BaseURL
	if serverOverride != "" {
		baseURL = serverOverride
	} else {
		profiles, err := loadProfiles(defaultProfilesPath())
		if err != nil {
			return fmt.Errorf("loading profiles: %w", err)
		}
		if url, err := profiles.Resolve(profileName); err != nil {
			return err
		} else if url != "" {
			baseURL = url
		}
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	// Setup context with signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Open the credential store and watch for writes by other instances
	backend, err := credstore.NewSQLiteBackend(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}
	store, err := credstore.New(backend)
	if err != nil {
		return fmt.Errorf("reading credential store: %w", err)
	}
	defer store.Close()

	go func() {
		if err := store.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("credential watcher stopped", "error", err)
		}
	}()

	app := newApp(cfg, baseURL, store)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Server: %s\n", baseURL)
	green.Print("    ▶ ")
	fmt.Printf("Store:  %s\n", cfg.Store.Path)
	fmt.Println()

	state := app.resolver.Resolve()
	if state.IsAuthenticated {
		creds := store.Get()
		fmt.Printf("Signed in as %s. Type a message to chat, /help for commands.\n\n", creds.Username)
	} else {
		fmt.Println("Not signed in. Use /login <username> or /register <username> <email>.")
		fmt.Println()
	}

	return app.loop(ctx)
}

// app wires the client flows behind the interactive loop.
type app struct {
	store    *credstore.Store
	resolver *session.Resolver
	flow     *auth.Flow
	conv     *chat.Conversation
	keys     *keys.Manager
	scanner  *bufio.Scanner

	mu   sync.Mutex
	view guard.View
}

func newApp(cfg *config.Config, baseURL string, store *credstore.Store) *app {
	a := &app{
		store:   store,
		scanner: bufio.NewScanner(os.Stdin),
		view:    guard.ViewHome,
	}
	a.resolver = session.NewResolver(store)

	client := api.New(baseURL, cfg.Server.Timeout, store)
	a.flow = auth.NewFlow(client, store, a.navigate)
	a.conv = chat.NewConversation(client, store, a.resolver, chat.Options{
		HistoryLimit:  cfg.Chat.HistoryLimit,
		RedirectDelay: cfg.Chat.SettingsRedirectDelay,
		Navigate:      a.navigate,
		OnAuthError:   a.flow.HandleAuthError,
	})
	a.keys = keys.NewManager(client, a.resolver, a.flow.HandleAuthError)
	return a
}

// navigate records the redirect target and tells the user. Flows may call
// this from timer goroutines, hence the lock.
func (a *app) navigate(v guard.View) {
	a.mu.Lock()
	a.view = v
	a.mu.Unlock()

	switch v {
	case guard.ViewLogin:
		color.Yellow("→ login required, use /login <username>")
	case guard.ViewSettings:
		color.Yellow("→ check your API key: /keys to inspect, /setkey <key> to replace")
	}
}

// enter applies the route guard before a protected command runs.
func (a *app) enter(v guard.View) bool {
	decision := guard.Decide(a.resolver.Resolve(), v)
	switch decision.Action {
	case guard.RedirectLogin:
		a.navigate(guard.ViewLogin)
		return false
	case guard.Pending:
		// Resolve never leaves the state uninitialized after first call
		return false
	}
	a.mu.Lock()
	a.view = v
	a.mu.Unlock()
	return true
}

func (a *app) loop(ctx context.Context) error {
	for {
		// Print prompt (include the view when one is active)
		a.mu.Lock()
		view := a.view
		a.mu.Unlock()
		if view == guard.ViewHome || view == guard.ViewChat {
			fmt.Print("> ")
		} else {
			fmt.Printf("[%s]> ", view)
		}

		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)

		go func() {
			if a.scanner.Scan() {
				inputCh <- a.scanner.Text()
			} else {
				if err := a.scanner.Err(); err != nil {
					errCh <- err
				} else {
					errCh <- io.EOF
				}
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if input == "/quit" || input == "/exit" || input == "/q" {
			return nil
		}

		if strings.HasPrefix(input, "/") {
			a.runCommand(ctx, input)
			fmt.Println()
			continue
		}

		// Anything else is a chat message
		a.sendChat(ctx, input)
		fmt.Println()
	}
}

func (a *app) runCommand(ctx context.Context, input string) {
	cmd, args, _ := strings.Cut(input, " ")
	args = strings.TrimSpace(args)

	switch cmd {
	case "/help":
		printHelp()
	case "/login":
		a.cmdLogin(ctx, args)
	case "/register":
		a.cmdRegister(ctx, args)
	case "/logout":
		a.cmdLogout()
	case "/whoami":
		a.cmdWhoami()
	case "/keys":
		a.cmdKeys(ctx)
	case "/newkey":
		a.cmdNewKey(ctx, args)
	case "/toggle":
		a.cmdToggle(ctx, args)
	case "/delete":
		a.cmdDelete(ctx, args)
	case "/test":
		a.cmdTest(ctx, args)
	case "/setkey":
		a.cmdSetKey(ctx, args)
	case "/export":
		a.cmdExport(args)
	default:
		fmt.Printf("Unknown command: %s (try /help)\n", cmd)
	}
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /login <username>             Sign in (prompts for password)")
	fmt.Println("  /register <username> <email>  Create an account")
	fmt.Println("  /logout                       Sign out and clear credentials")
	fmt.Println("  /whoami                       Show the signed-in identity")
	fmt.Println("  /keys                         List API keys")
	fmt.Println("  /newkey <name>                Create an API key")
	fmt.Println("  /toggle <id>                  Enable or disable a key")
	fmt.Println("  /delete <id>                  Delete a key (asks first)")
	fmt.Println("  /test <key>                   Send a test message with a key")
	fmt.Println("  /setkey <key>                 Store the key used for chat")
	fmt.Println("  /export <file>                Write the chat transcript as HTML")
	fmt.Println("  /help                         Show this help")
	fmt.Println("  /quit                         Exit")
	fmt.Println()
	fmt.Println("Anything that is not a command is sent as a chat message.")
}

func (a *app) sendChat(ctx context.Context, text string) {
	if !a.enter(guard.ViewChat) {
		return
	}

	if err := a.conv.Send(ctx, text); err != nil {
		printErr(err)
		return
	}

	msgs := a.conv.Messages()
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	if last.Role == chat.RoleBot {
		color.New(color.FgGreen).Print("bot> ")
		fmt.Println(last.Content)
	}
}

func (a *app) cmdLogin(ctx context.Context, username string) {
	if username == "" {
		fmt.Println("Usage: /login <username>")
		return
	}
	password, ok := a.prompt("password: ")
	if !ok {
		return
	}

	if err := a.flow.Login(ctx, username, password); err != nil {
		printErr(err)
		return
	}
	color.Green("Signed in as %s", username)
	if !a.resolver.Resolve().HasAPIKey {
		fmt.Println("No API key on file yet. Use /newkey <name> or /setkey <key>.")
	}
}

func (a *app) cmdRegister(ctx context.Context, args string) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		fmt.Println("Usage: /register <username> <email>")
		return
	}
	password, ok := a.prompt("password: ")
	if !ok {
		return
	}

	if err := a.flow.Register(ctx, fields[0], fields[1], password); err != nil {
		printErr(err)
		return
	}
	color.Green("Account created, signed in as %s", fields[0])
}

func (a *app) cmdLogout() {
	if err := a.flow.Logout(); err != nil {
		printErr(err)
		return
	}
	a.mu.Lock()
	a.view = guard.ViewHome
	a.mu.Unlock()
	fmt.Println("Signed out.")
}

func (a *app) cmdWhoami() {
	state := a.resolver.Resolve()
	if !state.IsAuthenticated {
		fmt.Println("Not signed in.")
		return
	}
	creds := a.store.Get()
	fmt.Printf("Username: %s\n", creds.Username)
	if creds.Email != "" {
		fmt.Printf("Email:    %s\n", creds.Email)
	}
	if expiry := a.resolver.TokenExpiry(); !expiry.IsZero() {
		fmt.Printf("Token:    expires %s\n", expiry.Local().Format(time.RFC1123))
	}
	if state.HasAPIKey {
		fmt.Println("API key:  configured")
	} else {
		fmt.Println("API key:  none")
	}
}

func (a *app) cmdKeys(ctx context.Context) {
	if !a.enter(guard.ViewKeys) {
		return
	}

	records, err := a.keys.List(ctx)
	if err != nil {
		printErr(err)
		return
	}
	if len(records) == 0 {
		fmt.Println("No API keys. Create one with /newkey <name>.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tTOKENS\tREQUESTS\tLAST USED")
	for _, r := range records {
		status := color.GreenString("active")
		if !r.Active {
			status = color.HiBlackString("disabled")
		}
		lastUsed := "never"
		if r.LastUsedAt != nil {
			lastUsed = r.LastUsedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			r.ID, r.Name, status, r.TokensUsed, r.RequestCount, lastUsed)
	}
	w.Flush()
}

func (a *app) cmdNewKey(ctx context.Context, name string) {
	if !a.enter(guard.ViewKeys) {
		return
	}
	record, err := a.keys.Create(ctx, name)
	if err != nil {
		printErr(err)
		return
	}
	color.Green("Created key %s (%s)", record.ID, record.Name)
	fmt.Printf("Key: %s\n", record.Key)
}

func (a *app) cmdToggle(ctx context.Context, id string) {
	if id == "" {
		fmt.Println("Usage: /toggle <id>")
		return
	}
	if !a.enter(guard.ViewKeys) {
		return
	}
	if err := a.keys.Toggle(ctx, id); err != nil {
		printErr(err)
		return
	}
	for _, r := range a.keys.Keys() {
		if r.ID == id {
			if r.Active {
				color.Green("Key %s enabled", id)
			} else {
				fmt.Printf("Key %s disabled\n", id)
			}
			return
		}
	}
}

func (a *app) cmdDelete(ctx context.Context, id string) {
	if id == "" {
		fmt.Println("Usage: /delete <id>")
		return
	}
	if !a.enter(guard.ViewKeys) {
		return
	}
	err := a.keys.Remove(ctx, id, func() bool {
		answer, ok := a.prompt(fmt.Sprintf("Delete key %s? [y/N] ", id))
		return ok && strings.EqualFold(answer, "y")
	})
	if errors.Is(err, keys.ErrNotConfirmed) {
		fmt.Println("Cancelled.")
		return
	}
	if err != nil {
		printErr(err)
		return
	}
	fmt.Printf("Deleted key %s\n", id)
}

func (a *app) cmdTest(ctx context.Context, key string) {
	if key == "" {
		fmt.Println("Usage: /test <key>")
		return
	}
	if !a.enter(guard.ViewKeys) {
		return
	}
	result, err := a.keys.Test(ctx, key)
	if err != nil {
		printErr(err)
		return
	}
	color.Green("Key works.")
	fmt.Printf("Reply:  %s\n", result.Reply)
	fmt.Printf("Tokens: %d\n", result.TokensUsed)
}

func (a *app) cmdSetKey(ctx context.Context, key string) {
	if !a.enter(guard.ViewSettings) {
		return
	}
	msg, err := a.flow.SaveAPIKey(ctx, key)
	if err != nil {
		printErr(err)
		return
	}
	if msg == "" {
		msg = "API key saved"
	}
	color.Green("%s", msg)
}

func (a *app) cmdExport(path string) {
	if path == "" {
		fmt.Println("Usage: /export <file>")
		return
	}
	f, err := os.Create(path)
	if err != nil {
		printErr(err)
		return
	}
	defer f.Close()

	if err := a.conv.ExportHTML(f); err != nil {
		printErr(err)
		return
	}
	fmt.Printf("Wrote transcript to %s\n", path)
}

// prompt reads one line of input with a label. Returns false on EOF.
func (a *app) prompt(label string) (string, bool) {
	fmt.Print(label)
	if !a.scanner.Scan() {
		return "", false
	}
	return strings.TrimSpace(a.scanner.Text()), true
}

// printErr prefers the user-facing message of API errors.
func printErr(err error) {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		color.Red("[error] %s", apiErr.UserMessage())
		return
	}
	color.Red("[error] %v", err)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	// Logs go to stderr so they never interleave with the chat prompt
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Fprint(os.Stderr, buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
