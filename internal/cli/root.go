package cli

import (
	"fmt"
	"strings"
)

func Run(args []string) error {
	if len(args) == 0 {
		return runSessions(nil)
	}

	switch args[0] {
	case "run":
		return runSessions(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "check":
		return runCheck(args[1:])
	case "watch":
		return runWatch(args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		if strings.HasPrefix(args[0], "-") {
			return runSessions(args)
		}
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Println("steam-sessions: bulk create and renew Steam sessions")
	fmt.Println()
	fmt.Println("Quick Start:")
	fmt.Println("  steam-sessions check --accounts accounts.txt --secrets ./maFiles --proxies proxies.txt")
	fmt.Println("  steam-sessions run --accounts accounts.txt --secrets ./maFiles --proxies proxies.txt")
	fmt.Println("  steam-sessions validate --sessions ./sessions")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run       create missing sessions and renew expiring ones (default)")
	fmt.Println("  validate  list stored sessions that are invalid or expire soon (offline)")
	fmt.Println("  check     preflight inputs, sessions dir, lock, redis and history db")
	fmt.Println("  watch     repeat run on a cron schedule")
	fmt.Println()
	fmt.Println("Notes:")
	fmt.Println("  - Settings come from defaults, steam-sessions.{json,yaml}, .env and STEAM_SESSIONS_* variables")
	fmt.Println("  - Use --json on commands for machine-readable output")
	fmt.Println("  - Ctrl+C stops admitting new jobs and waits for running ones; a second Ctrl+C aborts them")
}
