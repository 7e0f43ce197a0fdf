// cmd/schedctl is the operator CLI for the scheduling daemon: it sends
// add/remove control commands over Redis (TOTP-signed when the daemon
// enforces auth) and inspects persisted schedules, pending events and
// recent firings.
//
// Usage:
//
//	schedctl add "eod|trading-days|before-close|10m"
//	schedctl remove eod
//	schedctl list
//	schedctl status
//	schedctl firings -event eod -limit 20
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pquerna/otp/totp"

	"sched-systemv1/internal/model"
	"sched-systemv1/internal/rules"
	"sched-systemv1/internal/schedule"
	redisstore "sched-systemv1/internal/store/redis"
	sqlitestore "sched-systemv1/internal/store/sqlite"
)

func main() {
	log.SetFlags(0)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cmd {
	case "add":
		runAdd(ctx, args)
	case "remove":
		runRemove(ctx, args)
	case "list":
		runList(ctx, args)
	case "status":
		runStatus(ctx, args)
	case "firings":
		runFirings(ctx, args)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: schedctl <add|remove|list|status|firings> [flags]

  add "name|dates|times|arg"   register a schedule (compact spec)
  remove <name>                remove a schedule by name
  list                         show persisted schedules
  status                       show the daemon's pending-event snapshot
  firings -event <name>        show recent firings for an event

common flags: -redis addr, -password pw, -secret totp-secret (or TOTP_SECRET env)
status and firings also take -db path to read a local SQLite journal directly`)
}

// connFlags registers the shared connection flags on a flag set.
func connFlags(fs *flag.FlagSet) (addr, password, secret *string) {
	addr = fs.String("redis", envOr("REDIS_ADDR", "localhost:6379"), "Redis address")
	password = fs.String("password", os.Getenv("REDIS_PASSWORD"), "Redis password")
	secret = fs.String("secret", os.Getenv("TOTP_SECRET"), "TOTP secret for signing control commands")
	return
}

func runAdd(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	addr, password, secret := connFlags(fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		log.Fatal(`add: want exactly one compact spec, e.g. "eod|trading-days|before-close|10m"`)
	}

	spec, err := rules.ParseCompact(fs.Arg(0))
	if err != nil {
		log.Fatalf("add: %v", err)
	}

	w := mustWriter(*addr, *password)
	defer w.Close()

	if err := w.SaveSpec(ctx, spec); err != nil {
		log.Fatalf("add: persist failed: %v", err)
	}
	msg := redisstore.ControlMessage{Action: "add", Spec: spec, Code: signCode(*secret)}
	if err := w.PublishControl(ctx, msg); err != nil {
		log.Fatalf("add: publish failed: %v", err)
	}
	fmt.Printf("added schedule %s\n", spec.Name)
}

func runRemove(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	addr, password, secret := connFlags(fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		log.Fatal("remove: want exactly one schedule name")
	}
	name := fs.Arg(0)

	w := mustWriter(*addr, *password)
	defer w.Close()

	if err := w.DeleteSpec(ctx, name); err != nil {
		log.Fatalf("remove: unpersist failed: %v", err)
	}
	msg := redisstore.ControlMessage{Action: "remove", Name: name, Code: signCode(*secret)}
	if err := w.PublishControl(ctx, msg); err != nil {
		log.Fatalf("remove: publish failed: %v", err)
	}
	fmt.Printf("removed schedule %s\n", name)
}

func runList(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	addr, password, _ := connFlags(fs)
	fs.Parse(args)

	r := mustReader(*addr, *password)
	defer r.Close()

	specs, err := r.ListSpecs(ctx)
	if err != nil {
		log.Fatalf("list: %v", err)
	}
	if len(specs) == 0 {
		fmt.Println("no persisted schedules")
		return
	}
	for _, s := range specs {
		arg := s.Offset
		if s.Times == "at" {
			arg = s.At
			if s.Zone != "" {
				arg += "@" + s.Zone
			}
		}
		fmt.Printf("%-20s %s / %s / %s\n", s.Name, s.Dates, s.Times, arg)
	}
}

func runStatus(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	addr, password, _ := connFlags(fs)
	dbPath := fs.String("db", "", "read the last snapshot from a local SQLite journal instead of Redis")
	fs.Parse(args)

	if *dbPath != "" {
		r, err := sqlitestore.NewReader(*dbPath)
		if err != nil {
			log.Fatalf("status: %v", err)
		}
		defer r.Close()
		snap, err := r.ReadLatestSnapshot()
		if err != nil {
			log.Fatalf("status: %v", err)
		}
		if snap == nil {
			fmt.Println("no snapshot in journal")
			return
		}
		printSnapshot(*snap)
		return
	}

	rdb := goredis.NewClient(&goredis.Options{Addr: *addr, Password: *password})
	defer rdb.Close()

	data, err := rdb.Get(ctx, "schedule:snapshot").Result()
	if err == goredis.Nil {
		fmt.Println("no snapshot published (daemon not running?)")
		return
	}
	if err != nil {
		log.Fatalf("status: %v", err)
	}

	var snap schedule.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		log.Fatalf("status: bad snapshot: %v", err)
	}
	printSnapshot(snap)
}

func printSnapshot(snap schedule.Snapshot) {
	fmt.Printf("snapshot taken %s (%s mode), %d pending event(s)\n",
		snap.TakenAt.Format(time.RFC3339), snap.Mode, len(snap.Pending))
	for _, ev := range snap.Pending {
		next := ev.NextUTC.Format(time.RFC3339)
		if ev.NextUTC.Equal(schedule.EndOfTime) {
			next = "exhausted"
		}
		fmt.Printf("%-30s next=%s seq=%d\n", ev.Name, next, ev.Seq)
	}
}

func runFirings(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("firings", flag.ExitOnError)
	addr, password, _ := connFlags(fs)
	event := fs.String("event", "", "event name (required)")
	limit := fs.Int64("limit", 20, "max firings to show")
	dbPath := fs.String("db", "", "read a local SQLite journal instead of Redis")
	fs.Parse(args)
	if *event == "" {
		log.Fatal("firings: -event is required")
	}

	var firings []model.Firing
	if *dbPath != "" {
		r, err := sqlitestore.NewReader(*dbPath)
		if err != nil {
			log.Fatalf("firings: %v", err)
		}
		defer r.Close()
		firings, err = r.ReadRecent(*event, int(*limit))
		if err != nil {
			log.Fatalf("firings: %v", err)
		}
	} else {
		r := mustReader(*addr, *password)
		defer r.Close()
		var err error
		firings, err = r.ReadRecentFirings(ctx, *event, *limit)
		if err != nil {
			log.Fatalf("firings: %v", err)
		}
	}

	if len(firings) == 0 {
		fmt.Printf("no recent firings for %s\n", *event)
		return
	}
	// Both stores return newest-first; print oldest-first.
	for i := len(firings) - 1; i >= 0; i-- {
		f := firings[i]
		status := "ok"
		if f.Error != "" {
			status = "ERR " + f.Error
		}
		fmt.Printf("scheduled=%s fired=%s dur=%dµs %s\n",
			f.ScheduledAt.Format(time.RFC3339), f.FiredAt.Format(time.RFC3339),
			f.DurationUs, status)
	}
}

func mustWriter(addr, password string) *redisstore.Writer {
	w, err := redisstore.New(redisstore.WriterConfig{Addr: addr, Password: password})
	if err != nil {
		log.Fatalf("redis connect: %v", err)
	}
	return w
}

func mustReader(addr, password string) *redisstore.Reader {
	r, err := redisstore.NewReader(redisstore.ReaderConfig{Addr: addr, Password: password})
	if err != nil {
		log.Fatalf("redis connect: %v", err)
	}
	return r
}

// signCode generates a TOTP code from the secret, or returns "" when the
// daemon runs without auth.
func signCode(secret string) string {
	if secret == "" {
		return ""
	}
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		log.Fatalf("totp: %v", err)
	}
	return code
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
