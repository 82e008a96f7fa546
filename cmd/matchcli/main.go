// Command matchcli is an interactive terminal client for the match/chat
// backend. It walks the full user journey: enter the matching queue, watch
// the breadth levels cycle, drop into the matched room, exchange messages,
// and report or leave from the prompt.
//
// Usage:
//
//	matchcli [-base http://localhost:8080] [-user u1] [-mbti INFP]
//
// When -user/-mbti are omitted the client asks the backend for the logged-in
// session's profile. Set METRICS_ADDR to expose Prometheus metrics while
// running.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/mbtilink/matchkit/internal/api"
	"github.com/mbtilink/matchkit/internal/auth"
	"github.com/mbtilink/matchkit/internal/chat"
	"github.com/mbtilink/matchkit/internal/matching"
	"github.com/mbtilink/matchkit/internal/metrics"
	"github.com/mbtilink/matchkit/internal/moderation"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using process environment")
	}

	config := api.DefaultConfig()
	if v := os.Getenv("API_BASE_URL"); v != "" {
		config.BaseURL = v
	}

	base := flag.String("base", config.BaseURL, "backend base URL")
	userID := flag.String("user", os.Getenv("USER_ID"), "user id (defaults to the logged-in session)")
	mbti := flag.String("mbti", os.Getenv("MBTI"), "four-letter MBTI code")
	flag.Parse()
	config.BaseURL = *base

	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			log.Printf("metrics listening on %s", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("metrics listener: %v", err)
			}
		}()
	}

	client, err := api.NewClient(config)
	if err != nil {
		log.Fatalf("client setup: %v", err)
	}

	ctx := context.Background()

	// Fall back to the session's own identity when no flags were given.
	if *userID == "" || *mbti == "" {
		store := auth.NewStore(client)
		if err := store.Refresh(ctx); err != nil {
			log.Fatalf("no -user/-mbti given and profile load failed: %v", err)
		}
		snap := store.Current()
		if !snap.LoggedIn {
			log.Fatal("no -user/-mbti given and no session is logged in")
		}
		if *userID == "" {
			*userID = snap.UserID
		}
		if *mbti == "" {
			*mbti = snap.MBTI
		}
	}
	if *userID == "" || *mbti == "" {
		log.Fatal("user id and MBTI are required")
	}

	fmt.Printf("matching as %s (%s) against %s\n", *userID, *mbti, config.BaseURL)

	roomID, partnerMBTI, err := runMatching(ctx, client, *userID, *mbti)
	if err != nil {
		log.Fatalf("matching: %v", err)
	}
	fmt.Printf("matched! partner MBTI %s, room %s\n", partnerMBTI, roomID)

	if err := runChat(ctx, client, roomID, *userID); err != nil {
		log.Fatalf("chat: %v", err)
	}
}

// runMatching drives the polling loop until it resolves, echoing every
// state change. Ctrl-D on stdin is not watched here; cancel by Ctrl-C.
func runMatching(ctx context.Context, client *api.Client, userID, mbti string) (roomID, partnerMBTI string, err error) {
	done := make(chan matching.Snapshot, 1)

	loop := matching.NewLoop(client, matching.Config{
		OnUpdate: func(s matching.Snapshot) {
			switch s.Phase {
			case matching.PhaseWaiting:
				fmt.Printf("  level %d: %s (%d waiting)\n", s.Level, s.LevelLabel, s.WaitCount)
			case matching.PhaseMatched, matching.PhaseFailed:
				select {
				case done <- s:
				default:
				}
			}
		},
	})

	if err := loop.Start(ctx, userID, mbti); err != nil {
		return "", "", err
	}

	final := <-done
	if final.Phase == matching.PhaseFailed {
		return "", "", final.Err
	}
	return final.RoomID, final.PartnerMBTI, nil
}

// runChat opens the room and relays between stdin and the socket until the
// user leaves or input ends.
func runChat(ctx context.Context, client *api.Client, roomID, userID string) error {
	session := chat.NewSession(client, roomID, userID, chat.Config{
		OnMessage: func(m chat.Message) {
			who := "them"
			if m.IsMine {
				who = "me"
			}
			fmt.Printf("[%s] %s\n", who, m.Content)
		},
		OnStatus: func(status chat.ConnStatus) {
			fmt.Printf("-- connection %s --\n", status)
		},
	})

	if err := session.Open(ctx); err != nil {
		return err
	}
	defer session.Close()

	for _, m := range session.Messages() {
		who := "them"
		if m.IsMine {
			who = "me"
		}
		fmt.Printf("[%s] %s\n", who, m.Content)
	}
	fmt.Println("type a message, /report <n> <reason...>, /leave, or /quit")

	reporter := moderation.NewReporter(client, userID)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit":
			return nil
		case line == "/leave":
			if err := session.Leave(ctx); err != nil {
				fmt.Printf("leave failed: %v\n", err)
			}
			return nil
		case strings.HasPrefix(line, "/report"):
			handleReport(ctx, reporter, session, line)
		default:
			if err := session.Send(line); err != nil {
				if errors.Is(err, chat.ErrNotOpen) {
					fmt.Println("connection closed; re-open the room to continue")
					return nil
				}
				fmt.Printf("send failed: %v\n", err)
			}
		}
	}
	return scanner.Err()
}

// handleReport parses "/report <n> <reason...>" where n is the 1-based
// transcript index and reasons are codes like ABUSE or SPAM.
func handleReport(ctx context.Context, reporter *moderation.Reporter, session *chat.Session, line string) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		fmt.Println("usage: /report <message number> <reason...>")
		return
	}

	n, err := strconv.Atoi(fields[1])
	messages := session.Messages()
	if err != nil || n < 1 || n > len(messages) {
		fmt.Printf("no such message; transcript has %d messages\n", len(messages))
		return
	}

	draft := moderation.NewDraft(messages[n-1].ID)
	for _, reason := range fields[2:] {
		draft.Toggle(strings.ToUpper(reason))
	}

	switch err := reporter.Submit(ctx, draft); {
	case err == nil:
		fmt.Println("report filed")
	case errors.Is(err, moderation.ErrAlreadyReported):
		fmt.Println("you already reported this message")
	case errors.Is(err, moderation.ErrNoReasons):
		fmt.Println("pick at least one valid reason (ABUSE, HARASSMENT, SPAM, OTHER)")
	default:
		fmt.Printf("report failed: %v\n", err)
	}
}
