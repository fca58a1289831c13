// Command console is a terminal client for exercising the dialogue pipeline
// end to end: it submits messages, follows the live event stream, and prints
// the reconciled transcript.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/maieulabs/maieutic-backend/pkg/dialogue"
)

func main() {
	_ = godotenv.Load()

	baseURL := flag.String("base", "http://localhost:8080", "API base URL")
	token := flag.String("token", os.Getenv("MAIEUTIC_TOKEN"), "bearer token")
	convID := flag.String("conversation", "", "conversation id")
	nodeID := flag.String("node", "", "canvas node id")
	flag.Parse()

	kind := dialogue.ParentConversation
	rawID := *convID
	if *nodeID != "" {
		kind = dialogue.ParentNode
		rawID = *nodeID
	}
	parentID, err := uuid.Parse(rawID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pass -conversation or -node with a valid id")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := dialogue.NewClient(*baseURL, *token)
	session := dialogue.NewSession(client, kind, parentID)

	if err := session.Load(ctx, 50); err != nil {
		fmt.Fprintf(os.Stderr, "load history: %v\n", err)
		os.Exit(1)
	}
	for _, m := range session.Messages() {
		printMessage(m)
	}

	stream := session.Stream(ctx)
	defer stream.Close()
	go func() {
		for ev := range stream.Events() {
			session.HandleEvent(ev)
			switch ev.Type {
			case dialogue.EventProcessing:
				fmt.Printf("  [job %s processing]\n", short(ev.JobID))
			case dialogue.EventProgress:
				fmt.Printf("  [job %s: %s]\n", short(ev.JobID), ev.Note)
			case dialogue.EventMessage:
				if ev.Message != nil {
					printMessage(*ev.Message)
				}
			case dialogue.EventComplete:
				fmt.Print("> ")
			case dialogue.EventError:
				fmt.Printf("  [job %s failed: %s]\n> ", short(ev.JobID), ev.Err)
			}
		}
		if err := stream.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "stream ended: %v\n", err)
		}
	}()

	fmt.Print("> ")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}
		if line == "/quit" {
			return
		}
		res, err := session.Submit(ctx, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "submit: %v\n> ", err)
			continue
		}
		fmt.Printf("  [queued as job %s, position %d]\n", short(res.JobID), res.Position)
	}
}

func printMessage(m dialogue.Message) {
	fmt.Printf("[%3d] %-9s %s\n", m.Seq, m.Role+":", m.Content)
}

func short(id uuid.UUID) string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
