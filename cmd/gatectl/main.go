// Command gatectl runs operator tasks against the access database.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"openway.dev/internal/accounts"
	"openway.dev/internal/auth"
	"openway.dev/internal/config"
	"openway.dev/internal/oplog"
	"openway.dev/internal/provision"
	"openway.dev/internal/retention"
	"openway.dev/internal/store/pg"
)

const usage = `usage: gatectl <command> [flags]

commands:
  purge         delete audit events older than --days (default 90)
  provision     apply a YAML provisioning document
  set-password  set an account password (read from stdin)
  admin-token   mint an admin bearer token for the operator API
`

func main() {
	_ = config.LoadDotEnv(".env")
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "purge":
		err = runPurge(args)
	case "provision":
		err = runProvision(args)
	case "set-password":
		err = runSetPassword(args)
	case "admin-token":
		err = runAdminToken(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "gatectl %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func dsnFlag(fs *flag.FlagSet) *string {
	return fs.String("dsn", os.Getenv("OPENWAY_PG_DSN"), "PostgreSQL DSN")
}

func openStore(dsn string) (*pg.Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("missing DSN: provide via --dsn or OPENWAY_PG_DSN")
	}
	return pg.Open(dsn)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runPurge(args []string) error {
	fs := flag.NewFlagSet("purge", flag.ContinueOnError)
	dsn := dsnFlag(fs)
	days := fs.Int("days", retention.DefaultDays, "Delete events older than this many days")
	batch := fs.Int("batch", retention.DefaultBatchSize, "Rows deleted per statement")
	if err := fs.Parse(args); err != nil {
		return err
	}
	store, err := openStore(*dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	res, err := retention.NewPurger(store, retention.WithBatchSize(*batch)).Purge(ctx, *days)
	if err != nil {
		return err
	}
	_ = oplog.Record(ctx, "audit.purge", map[string]any{"days": *days, "deleted": res.Deleted})
	return printJSON(res)
}

func runProvision(args []string) error {
	fs := flag.NewFlagSet("provision", flag.ContinueOnError)
	dsn := dsnFlag(fs)
	file := fs.StringP("file", "f", os.Getenv("OPENWAY_PROVISION_FILE"), "Provisioning YAML document")
	dryRun := fs.Bool("dry-run", false, "Validate the document without touching the database")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("missing --file")
	}
	doc, err := provision.Load(*file)
	if err != nil {
		return err
	}
	if *dryRun {
		fmt.Println("document is valid")
		return nil
	}
	store, err := openStore(*dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	sum, err := provision.NewApplier(store, accounts.NewService(store)).Apply(ctx, doc)
	if err != nil {
		return err
	}
	_ = oplog.Record(ctx, "provision.apply", map[string]any{"file": *file})
	return printJSON(sum)
}

func runSetPassword(args []string) error {
	fs := flag.NewFlagSet("set-password", flag.ContinueOnError)
	dsn := dsnFlag(fs)
	username := fs.StringP("username", "u", "", "Account username")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return fmt.Errorf("missing --username")
	}
	password, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && password == "" {
		return fmt.Errorf("read password from stdin: %w", err)
	}
	password = strings.TrimRight(password, "\r\n")

	store, err := openStore(*dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := accounts.NewService(store).SetPassword(ctx, *username, password); err != nil {
		return err
	}
	_ = oplog.Record(ctx, "account.set_password", map[string]any{"username": *username})
	fmt.Println("password updated")
	return nil
}

func runAdminToken(args []string) error {
	fs := flag.NewFlagSet("admin-token", flag.ContinueOnError)
	subject := fs.String("subject", "operator", "Token subject")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	roles := fs.StringSlice("role", []string{auth.RoleAdmin}, "Roles to embed (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	tokens, err := auth.NewTokens(os.Getenv("OPENWAY_AUTH_SECRET"))
	if err != nil {
		return fmt.Errorf("%w (set OPENWAY_AUTH_SECRET)", err)
	}
	token, expires, err := tokens.Generate(*subject, *roles, *ttl)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"token":      token,
		"expires_at": expires.Format(time.RFC3339),
	})
}
