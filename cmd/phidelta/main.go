package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ChamsBouzaiene/phidelta/internal/engine"
	"github.com/ChamsBouzaiene/phidelta/internal/memory"
	"github.com/ChamsBouzaiene/phidelta/internal/orchestrator"
	"github.com/ChamsBouzaiene/phidelta/internal/server"
	"github.com/ChamsBouzaiene/phidelta/internal/session"
)

func main() {
	// Load .env if present so API keys can live next to the binary.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args[1:]
	if len(args) > 0 && args[0] == "serve" {
		if err := runServe(ctx, args[1:]); err != nil {
			log.Fatalf("serve failed: %v", err)
		}
		return
	}

	if err := runREPL(ctx, args); err != nil {
		log.Fatalf("command failed: %v", err)
	}
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", ":8080", "HTTP listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := prepareRuntimeEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	srv := server.New(server.Deps{
		LLM:      env.LLM,
		Model:    env.Model,
		Sessions: env.Sessions,
		Pipeline: env.Pipeline,
	})
	return srv.ListenAndServe(ctx, *addr)
}

func runREPL(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("phidelta", flag.ExitOnError)
	verbose := fs.Bool("verbose", false, "Log tool calls and token usage")
	resume := fs.String("resume", "", "Session ID to resume")
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := prepareRuntimeEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	sess, mem, err := openSession(ctx, env, *resume)
	if err != nil {
		return err
	}

	opts := env.Pipeline
	if *verbose {
		opts.Hooks = engine.Hooks{engine.LoggerHook{L: log.Default()}}
	}
	pipeline := orchestrator.New(env.LLM, env.Model, mem, opts)

	log.Printf("session %s (%s, model %s)", sess.ID, sess.Title, env.Model)
	fmt.Println("Type a message, or /quit to exit.")

	s := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !s.Scan() {
			break
		}
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		result, err := pipeline.Respond(ctx, line, func(delta string) {
			fmt.Print(delta)
		})
		if err != nil {
			log.Printf("error: %v", err)
			continue
		}
		fmt.Println()
		if result.Status == orchestrator.StatusPaused {
			fmt.Println("(run paused: more input is needed to continue)")
		}

		saveSession(ctx, env, pipeline, sess, mem)
	}
	return s.Err()
}

func openSession(ctx context.Context, env *runtimeEnv, resumeID string) (*session.Session, *memory.Memory, error) {
	mem := memory.New()

	if resumeID != "" {
		sess, err := env.Sessions.Load(ctx, resumeID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to resume session %s: %w", resumeID, err)
		}
		sess.Hydrate(mem)
		return sess, mem, nil
	}
	return session.NewSession(), mem, nil
}

func saveSession(ctx context.Context, env *runtimeEnv, pipeline *orchestrator.Pipeline, sess *session.Session, mem *memory.Memory) {
	sess.Snapshot(mem)
	if sess.Title == "" || sess.Title == "New Session" {
		if title, err := pipeline.Title(ctx); err == nil && title != "" {
			sess.Title = title
		}
	}
	if err := env.Sessions.Save(ctx, sess); err != nil {
		log.Printf("session save failed: %v", err)
	}
}
