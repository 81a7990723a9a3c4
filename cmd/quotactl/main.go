// Command quotactl administers the quota engine over its admin API.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	godotenv.Load()

	addr := flag.String("addr", envOr("QUOTACTL_ADDR", "http://localhost:8080"), "engine base URL")
	email := flag.String("email", os.Getenv("QUOTACTL_EMAIL"), "admin email")
	password := flag.String("password", os.Getenv("QUOTACTL_PASSWORD"), "admin password")
	token := flag.String("token", os.Getenv("QUOTACTL_TOKEN"), "admin JWT (skips login)")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	client := NewClient(*addr, *email, *password, *token)

	if err := run(client, args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "quotactl: %v\n", err)
		os.Exit(1)
	}
}

func run(client *Client, command string, args []string) error {
	switch command {
	case "generate-key":
		fs := flag.NewFlagSet("generate-key", flag.ExitOnError)
		developer := fs.String("developer", "", "developer id")
		tier := fs.String("tier", "free", "tier name")
		name := fs.String("name", "", "key name")
		fs.Parse(args)
		if *developer == "" || *name == "" {
			return fmt.Errorf("generate-key requires -developer and -name")
		}
		return client.GenerateKey(*developer, *tier, *name)

	case "suspend-key":
		return client.KeyLifecycle("suspend", args)

	case "reactivate-key":
		return client.KeyLifecycle("reactivate", args)

	case "revoke-key":
		return client.KeyLifecycle("revoke", args)

	case "list-keys":
		fs := flag.NewFlagSet("list-keys", flag.ExitOnError)
		developer := fs.String("developer", "", "filter by developer id")
		fs.Parse(args)
		return client.ListKeys(*developer)

	case "status":
		return client.Status()

	case "health":
		return client.Health()

	case "analytics":
		fs := flag.NewFlagSet("analytics", flag.ExitOnError)
		developer := fs.String("developer", "", "developer id")
		days := fs.Int("days", 7, "lookback window in days")
		fs.Parse(args)
		if *developer == "" {
			return fmt.Errorf("analytics requires -developer")
		}
		return client.Analytics(*developer, *days)

	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage")
	fmt.Fprintln(os.Stderr, "  quotactl [flags] <command> [command flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands")
	fmt.Fprintln(os.Stderr, "  generate-key    -developer <id> -tier <tier> -name <name>")
	fmt.Fprintln(os.Stderr, "  suspend-key     <key uuid>")
	fmt.Fprintln(os.Stderr, "  reactivate-key  <key uuid>")
	fmt.Fprintln(os.Stderr, "  revoke-key      <key uuid>")
	fmt.Fprintln(os.Stderr, "  list-keys       [-developer <id>]")
	fmt.Fprintln(os.Stderr, "  status          engine status and block overview")
	fmt.Fprintln(os.Stderr, "  health          backend health and fallback mode")
	fmt.Fprintln(os.Stderr, "  analytics       -developer <id> [-days N]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Flags")
	fmt.Fprintln(os.Stderr, "  -addr string      engine base URL (QUOTACTL_ADDR)")
	fmt.Fprintln(os.Stderr, "  -email string     admin email (QUOTACTL_EMAIL)")
	fmt.Fprintln(os.Stderr, "  -password string  admin password (QUOTACTL_PASSWORD)")
	fmt.Fprintln(os.Stderr, "  -token string     admin JWT, skips login (QUOTACTL_TOKEN)")
}
