// Command relay runs the session orchestrator as an interactive console. It
// reads user prompts from stdin, relays them to the configured agent backend,
// and renders streamed chunks, budget warnings, and approval prompts.
//
// Commands:
//
//	/new            start a fresh session (resets the context budget)
//	/stop           abort the active run (queued requests keep their place)
//	/approve <id>   approve a pending action
//	/deny <id>      reject a pending action
//	/quit           exit
//
// Anything else is submitted as a prompt. When a run is already in flight the
// prompt is queued and handled in arrival order.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/log"

	anthropicbackend "github.com/chatrelay/relay/features/backend/anthropic"
	clibackend "github.com/chatrelay/relay/features/backend/cli"
	openaibackend "github.com/chatrelay/relay/features/backend/openai"
	mongostore "github.com/chatrelay/relay/features/session/mongo"
	clientsmongo "github.com/chatrelay/relay/features/session/mongo/clients/mongo"
	pulsesink "github.com/chatrelay/relay/features/stream/pulse"
	clientspulse "github.com/chatrelay/relay/features/stream/pulse/clients/pulse"
	"github.com/chatrelay/relay/runtime/approval"
	"github.com/chatrelay/relay/runtime/backend"
	"github.com/chatrelay/relay/runtime/orchestrator"
	"github.com/chatrelay/relay/runtime/risk"
	"github.com/chatrelay/relay/runtime/session"
	"github.com/chatrelay/relay/runtime/session/inmem"
	"github.com/chatrelay/relay/runtime/stream"
	"github.com/chatrelay/relay/runtime/telemetry"
)

func main() {
	var (
		backendF = flag.String("backend", "anthropic", "Agent backend (anthropic, openai, or cli)")
		agentF   = flag.String("agent-cmd", "", "Agent binary for the cli backend (e.g. \"claude -p --output-format stream-json\")")
		modelF   = flag.String("model", "", "Model identifier (defaults per backend)")
		systemF  = flag.String("system", "", "Optional system prompt")
		rulesF   = flag.String("risk-rules", "", "YAML risk rule table (defaults to the built-in rules)")
		redisF   = flag.String("redis", "", "Redis address for mirroring events to Pulse streams (optional)")
		mongoF   = flag.String("mongo", "", "MongoDB URI for session persistence (optional)")
		rateF    = flag.Float64("rate", 0, "Outbound events per second (0 disables rate limiting)")
		dbgF     = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	opener, model, err := buildBackend(*backendF, *modelF, *systemF, *agentF)
	if err != nil {
		log.Fatal(ctx, err)
	}

	classifier, err := buildClassifier(*rulesF)
	if err != nil {
		log.Fatal(ctx, err)
	}

	var sink stream.Sink = newConsoleSink(os.Stdout)
	if *redisF != "" {
		ps, err := buildPulseSink(*redisF)
		if err != nil {
			log.Fatal(ctx, err)
		}
		sink = newTeeSink(sink, ps)
	}
	if *rateF > 0 {
		sink = stream.NewRateLimited(sink, *rateF, 4)
	}

	store, err := buildStore(ctx, *mongoF)
	if err != nil {
		log.Fatal(ctx, err)
	}

	sess := session.NewRuntime(model, approval.NewGate(approval.DefaultTimeout), func(err error) {
		log.Error(ctx, err, log.KV{K: "msg", V: "run failed"})
	})
	orch, err := orchestrator.New(orchestrator.Config{
		Backend:    opener,
		Sink:       sink,
		Classifier: classifier,
		Session:    sess,
		Store:      store,
		Logger:     telemetry.NewClueLogger(),
		Metrics:    telemetry.NewOTELMetrics(),
	})
	if err != nil {
		log.Fatal(ctx, err)
	}

	log.Print(ctx, log.KV{K: "msg", V: "relay ready"}, log.KV{K: "backend", V: *backendF}, log.KV{K: "model", V: model})
	repl(ctx, orch, sink)
}

// repl reads lines from stdin and dispatches commands and prompts.
func repl(ctx context.Context, orch *orchestrator.Orchestrator, sink stream.Sink) {
	var runs runControl
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "/quit", "/exit":
			runs.stopAll()
			_ = sink.Close(ctx)
			return
		case "/new":
			orch.NewSession()
			fmt.Println("(new session)")
		case "/stop":
			if runs.stopOldest() {
				fmt.Println("(stopping)")
			} else {
				fmt.Println("(nothing to stop)")
			}
		case "/approve", "/deny":
			id := strings.TrimSpace(arg)
			if id == "" {
				fmt.Printf("usage: %s <id>\n", cmd)
				continue
			}
			if err := orch.Resolve(id, cmd == "/approve"); err != nil {
				fmt.Printf("approval %s: expired\n", id)
			}
		default:
			runCtx, cancel := context.WithCancel(ctx)
			runs.add(cancel)
			orch.Submit(runCtx, line)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "read stdin"})
	}
	runs.stopAll()
}

// runControl tracks the cancel functions of submitted runs in arrival order.
// The queue is single-flight FIFO, so the oldest tracked entry is the active
// run; stopping it is best-effort (a cancel for an already finished run is a
// no-op, and a second /stop reaches the next one).
type runControl struct {
	mu      sync.Mutex
	cancels []context.CancelFunc
}

func (r *runControl) add(c context.CancelFunc) {
	r.mu.Lock()
	r.cancels = append(r.cancels, c)
	r.mu.Unlock()
}

func (r *runControl) stopOldest() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cancels) == 0 {
		return false
	}
	r.cancels[0]()
	r.cancels = r.cancels[1:]
	return true
}

func (r *runControl) stopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.cancels {
		c()
	}
	r.cancels = nil
}

func buildBackend(name, model, system, agentCmd string) (backend.Opener, string, error) {
	switch name {
	case "cli":
		parts := strings.Fields(agentCmd)
		if len(parts) == 0 {
			return nil, "", fmt.Errorf("cli backend requires -agent-cmd")
		}
		opener, err := clibackend.New(clibackend.Options{Command: parts[0], Args: parts[1:]})
		if err != nil {
			return nil, "", err
		}
		return opener, parts[0], nil
	case "anthropic":
		if model == "" {
			model = "claude-sonnet-4-5"
		}
		opener, err := anthropicbackend.NewFromAPIKey(os.Getenv("ANTHROPIC_API_KEY"), anthropicbackend.Options{
			Model:  model,
			System: system,
		})
		if err != nil {
			return nil, "", fmt.Errorf("anthropic backend: %w (set ANTHROPIC_API_KEY)", err)
		}
		return opener, model, nil
	case "openai":
		if model == "" {
			model = "gpt-4o"
		}
		opener, err := openaibackend.NewFromAPIKey(os.Getenv("OPENAI_API_KEY"), openaibackend.Options{
			Model:  model,
			System: system,
		})
		if err != nil {
			return nil, "", fmt.Errorf("openai backend: %w (set OPENAI_API_KEY)", err)
		}
		return opener, model, nil
	default:
		return nil, "", fmt.Errorf("unknown backend %q (valid: anthropic, openai, cli)", name)
	}
}

func buildClassifier(rulesPath string) (risk.Classifier, error) {
	if rulesPath == "" {
		return risk.Default(), nil
	}
	return risk.LoadFile(rulesPath)
}

func buildPulseSink(addr string) (stream.Sink, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	cli, err := clientspulse.New(clientspulse.Options{Redis: rdb})
	if err != nil {
		return nil, err
	}
	return pulsesink.NewSink(pulsesink.Options{Client: cli})
}

func buildStore(ctx context.Context, uri string) (session.Store, error) {
	if uri == "" {
		return inmem.New(), nil
	}
	mc, err := mongodriver.Connect(mongooptions.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	cli, err := clientsmongo.New(clientsmongo.Options{Client: mc, Database: "relay"})
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return mongostore.NewStore(cli)
}
