// Command ralendar-admin performs operator tasks against the auth database:
// client provisioning, duplicate account merges, partner assertions.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ralendar/oauth-server/internal/repository/postgres"
	"github.com/ralendar/oauth-server/internal/service"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: ralendar-admin <command> [flags]

commands:
  create-client      register a new OAuth client
  deactivate-client  disable a client
  merge-users        fold a duplicate user into a survivor
  link-user          bind a local user to a partner account
  sign-assertion     mint a partner assertion for testing
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "create-client":
		err = createClient(ctx, os.Args[2:])
	case "deactivate-client":
		err = deactivateClient(ctx, os.Args[2:])
	case "merge-users":
		err = mergeUsers(ctx, os.Args[2:], logger)
	case "link-user":
		err = linkUser(ctx, os.Args[2:], logger)
	case "sign-assertion":
		err = signAssertion(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func dial(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		dsn = os.Getenv("RALENDAR_DB_DSN")
	}
	if dsn == "" {
		return nil, fmt.Errorf("database dsn required (--dsn or RALENDAR_DB_DSN)")
	}
	return pgxpool.New(ctx, dsn)
}

func createClient(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-client", flag.ExitOnError)
	dsn := fs.String("dsn", "", "PostgreSQL DSN")
	name := fs.String("name", "", "client display name")
	desc := fs.String("description", "", "client description")
	redirects := fs.String("redirect-uris", "", "comma-separated redirect URIs")
	scopes := fs.String("scopes", "", "comma-separated allowed scopes")
	_ = fs.Parse(args)

	pool, err := dial(ctx, *dsn)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := service.NewClientService(postgres.NewClientRepo(&postgres.DB{Pool: pool}))
	client, secret, err := svc.Register(ctx, *name, *desc,
		splitCSV(*redirects), splitCSV(*scopes))
	if err != nil {
		return err
	}
	fmt.Println("client_id:    ", client.ClientID)
	fmt.Println("client_secret:", secret)
	fmt.Println("store the secret now, it is not recoverable")
	return nil
}

func deactivateClient(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("deactivate-client", flag.ExitOnError)
	dsn := fs.String("dsn", "", "PostgreSQL DSN")
	clientID := fs.String("client-id", "", "client id to disable")
	_ = fs.Parse(args)

	if *clientID == "" {
		return fmt.Errorf("--client-id required")
	}
	pool, err := dial(ctx, *dsn)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := service.NewClientService(postgres.NewClientRepo(&postgres.DB{Pool: pool}))
	if err := svc.Deactivate(ctx, *clientID); err != nil {
		return err
	}
	fmt.Println("deactivated", *clientID)
	return nil
}

func mergeUsers(ctx context.Context, args []string, logger *zap.Logger) error {
	fs := flag.NewFlagSet("merge-users", flag.ExitOnError)
	dsn := fs.String("dsn", "", "PostgreSQL DSN")
	survivor := fs.String("survivor", "", "user id that keeps everything")
	duplicate := fs.String("duplicate", "", "user id to fold in and delete")
	_ = fs.Parse(args)

	survivorID, err := uuid.FromString(*survivor)
	if err != nil {
		return fmt.Errorf("--survivor: %w", err)
	}
	duplicateID, err := uuid.FromString(*duplicate)
	if err != nil {
		return fmt.Errorf("--duplicate: %w", err)
	}

	pool, err := dial(ctx, *dsn)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := service.NewMergeService(postgres.NewMergeRepo(&postgres.DB{Pool: pool}), logger)
	report, err := svc.Merge(ctx, survivorID, duplicateID)
	if err != nil {
		return err
	}
	fmt.Printf("merged %s into %s\n", duplicateID, survivorID)
	fmt.Printf("  events moved:     %d\n", report.EventsMoved)
	fmt.Printf("  calendars moved:  %d\n", report.CalendarsMoved)
	fmt.Printf("  identities moved: %d\n", report.IdentitiesMoved)
	fmt.Printf("  mapping moved:    %v\n", report.MappingMoved)
	return nil
}

func linkUser(ctx context.Context, args []string, logger *zap.Logger) error {
	fs := flag.NewFlagSet("link-user", flag.ExitOnError)
	dsn := fs.String("dsn", "", "PostgreSQL DSN")
	user := fs.String("user", "", "local user id")
	foreignID := fs.Int64("foreign-id", 0, "partner user id")
	foreignName := fs.String("foreign-username", "", "partner username (cached)")
	_ = fs.Parse(args)

	userID, err := uuid.FromString(*user)
	if err != nil {
		return fmt.Errorf("--user: %w", err)
	}
	if *foreignID == 0 {
		return fmt.Errorf("--foreign-id required")
	}

	pool, err := dial(ctx, *dsn)
	if err != nil {
		return err
	}
	defer pool.Close()

	db := &postgres.DB{Pool: pool}
	svc := service.NewLinkService(postgres.NewMappingRepo(db), postgres.NewIdentityRepo(db),
		postgres.NewUserRepo(db), logger)
	m, err := svc.Link(ctx, userID, *foreignID, *foreignName)
	if err != nil {
		return err
	}
	fmt.Printf("linked %s to foreign user %d\n", userID, m.ForeignUserID)
	if m.UnionID != "" {
		fmt.Println("  federation key:", m.UnionID)
	} else {
		fmt.Println("  no federation key on file, link is id-only")
	}
	return nil
}

func signAssertion(args []string) error {
	fs := flag.NewFlagSet("sign-assertion", flag.ExitOnError)
	key := fs.String("key", "", "shared HS256 key (defaults to RALENDAR_SHARED_KEY)")
	foreignID := fs.Int64("foreign-id", 0, "partner user id")
	username := fs.String("username", "", "partner username")
	_ = fs.Parse(args)

	k := *key
	if k == "" {
		k = os.Getenv("RALENDAR_SHARED_KEY")
	}
	if k == "" {
		return fmt.Errorf("shared key required (--key or RALENDAR_SHARED_KEY)")
	}
	if *foreignID == 0 {
		return fmt.Errorf("--foreign-id required")
	}

	gate := service.NewGate([]byte(k), nil, nil)
	token, err := gate.SignAssertion(*foreignID, *username)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
