package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/smallnest/crewrelay/agents"
	"github.com/smallnest/crewrelay/internal/logger"
	"github.com/smallnest/crewrelay/relay"
	"github.com/smallnest/crewrelay/run"
	"github.com/smallnest/crewrelay/types"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat with live agent progress",
	RunE:  runChat,
}

var (
	chatMode string
	chatPath string
)

func init() {
	chatCmd.Flags().StringVar(&chatMode, "mode", "", "Execution mode (single, multi)")
	chatCmd.Flags().StringVar(&chatPath, "path", "", "Progress path (streamed, simulated)")
}

const chatKey = "cli:default"

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	svc, err := relay.New(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	mode := agents.Mode(chatMode)
	if mode == "" {
		mode = agents.Mode(cfg.Run.DefaultMode)
	}
	path := run.Path(chatPath)
	if path == "" {
		path = run.Path(cfg.Run.DefaultPath)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		HistoryLimit:    1000,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		svc.Cancel()
		cancel()
	}()

	fmt.Println("crewrelay interactive chat")
	fmt.Printf("  mode=%s path=%s  (/help for commands)\n\n", mode, path)

	for {
		line, err := rl.Readline()
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			var quit bool
			quit, mode, path = handleCommand(svc, line, mode, path)
			if quit {
				return nil
			}
			continue
		}

		askOnce(ctx, svc, line, mode, path)
	}
}

func handleCommand(svc *relay.Service, line string, mode agents.Mode, path run.Path) (quit bool, _ agents.Mode, _ run.Path) {
	switch strings.Fields(line)[0] {
	case "/quit", "/exit":
		return true, mode, path
	case "/multi":
		mode = agents.ModeMulti
		fmt.Println("mode: multi")
	case "/single":
		mode = agents.ModeSingle
		fmt.Println("mode: single")
	case "/stream":
		path = run.PathStreamed
		fmt.Println("path: streamed")
	case "/sim":
		path = run.PathSimulated
		fmt.Println("path: simulated")
	case "/repos":
		names := svc.Repos()
		if len(names) == 0 {
			fmt.Println("no repos registered")
		} else {
			fmt.Println(strings.Join(names, ", "))
		}
	case "/new":
		svc.Reset(chatKey)
		fmt.Println("started a new conversation")
	case "/help":
		fmt.Println("/multi /single /stream /sim /repos /new /quit")
	default:
		fmt.Println("unknown command; /help lists commands")
	}
	return false, mode, path
}

// askOnce runs one question, rendering agent transitions as they happen.
func askOnce(ctx context.Context, svc *relay.Service, message string, mode agents.Mode, path run.Path) {
	rn := svc.Ask(ctx, chatKey, relay.Question{Message: message, Mode: mode, Path: path})

	seen := make(map[string]agents.Status)
	var record *types.ResultRecord
	for update := range rn.Updates() {
		for _, snap := range update.Agents {
			if seen[snap.ID] != snap.Status {
				seen[snap.ID] = snap.Status
				fmt.Printf("  [%s] %s\n", snap.ID, snap.Status)
			}
		}
		if update.Final() {
			record = update.Result
		}
	}
	if record == nil {
		fmt.Println("  (run canceled)")
		return
	}

	svc.Commit(chatKey, message, record)
	fmt.Println()
	fmt.Println(record.Answer)
	printRunFacts(record)
}

func printRunFacts(record *types.ResultRecord) {
	var facts []string
	if record.RAGUsed {
		facts = append(facts, "repo context")
	}
	if record.WebUsed {
		facts = append(facts, "live browsing")
	}
	facts = append(facts, record.Elapsed.Round(100*time.Millisecond).String())
	fmt.Printf("\n  -- %s --\n\n", strings.Join(facts, " · "))
}
