package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ebdtools/attendsync/internal/api"
	"github.com/ebdtools/attendsync/internal/config"
	apperrors "github.com/ebdtools/attendsync/internal/errors"
	"github.com/ebdtools/attendsync/internal/logging"
	"github.com/ebdtools/attendsync/internal/models"
	"github.com/ebdtools/attendsync/internal/netmon"
	"github.com/ebdtools/attendsync/internal/offline"
	"github.com/ebdtools/attendsync/internal/store"
	syncpkg "github.com/ebdtools/attendsync/internal/sync"
	"github.com/ebdtools/attendsync/internal/sync/scheduler"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "attendsync",
		Usage:   "offline-first sync client for the attendance service",
		Version: Version,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the sync daemon (reachability monitor + background drains)",
				Action: runDaemon,
			},
			{
				Name:   "sync",
				Usage:  "Run one drain pass and exit",
				Action: runOnce,
			},
			{
				Name:   "status",
				Usage:  "Show queue depth and reachability",
				Action: showStatus,
			},
			{
				Name:  "attendance",
				Usage: "Record and inspect roll call",
				Subcommands: []*cli.Command{
					{
						Name:  "mark",
						Usage: "Mark a member present, late or absent (queued when offline)",
						Flags: []cli.Flag{
							&cli.Int64Flag{Name: "member", Required: true, Usage: "member id"},
							&cli.StringFlag{Name: "date", Usage: "date (YYYY-MM-DD, default today)"},
							&cli.StringFlag{Name: "status", Required: true, Usage: "present, late or absent"},
							&cli.StringFlag{Name: "time", Usage: "check-in time (HH:MM)"},
						},
						Action: markAttendance,
					},
					{
						Name:  "daily",
						Usage: "Show one day's roll call",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "date", Usage: "date (YYYY-MM-DD, default today)"},
						},
						Action: showDaily,
					},
				},
			},
			{
				Name:  "members",
				Usage: "Manage roster members",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "List members (mirror when offline)",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "search", Usage: "name, email or phone filter"},
							&cli.StringFlag{Name: "class", Usage: "class name filter"},
							&cli.BoolFlag{Name: "all", Usage: "include inactive members"},
						},
						Action: listMembers,
					},
					{
						Name:  "add",
						Usage: "Create a member (queued when offline)",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "name", Required: true},
							&cli.StringFlag{Name: "class"},
							&cli.StringFlag{Name: "phone"},
							&cli.StringFlag{Name: "email"},
							&cli.StringFlag{Name: "birthdate", Usage: "YYYY-MM-DD"},
						},
						Action: addMember,
					},
					{
						Name:  "update",
						Usage: "Update a member (queued when offline)",
						Flags: []cli.Flag{
							&cli.Int64Flag{Name: "id", Required: true, Usage: "member id"},
							&cli.StringFlag{Name: "name", Required: true},
							&cli.StringFlag{Name: "class"},
							&cli.StringFlag{Name: "phone"},
							&cli.StringFlag{Name: "email"},
							&cli.StringFlag{Name: "birthdate", Usage: "YYYY-MM-DD"},
							&cli.BoolFlag{Name: "inactive", Usage: "deactivate the member"},
						},
						Action: updateMember,
					},
				},
			},
			{
				Name:  "classes",
				Usage: "List classes (mirror when offline)",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "all", Usage: "include inactive classes"},
				},
				Action: listClasses,
			},
			{
				Name:  "queue",
				Usage: "Inspect and manage the pending queue",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List pending operations in replay order",
						Action: listQueue,
					},
					{
						Name:   "deadletter",
						Usage:  "List parked (dead-letter) operations",
						Action: listDeadLetter,
					},
					{
						Name:   "retry",
						Usage:  "Requeue all dead-letter operations",
						Action: retryDeadLetter,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// sourceChecker adapts a reachability source to the gateway's checker, for
// one-shot commands that have no running monitor.
type sourceChecker struct {
	src netmon.Source
}

func (c sourceChecker) IsOnline() bool {
	return c.src.Online()
}

// setup loads configuration, initializes logging, and opens the store,
// engine, and gateway shared by every command.
func setup() (config.Config, *store.Store, *syncpkg.Engine, *offline.Gateway, error) {
	cfg := config.LoadConfig()
	logging.Init(os.Stderr, logging.ParseLevel(cfg.Log.Level))

	st, err := store.Open(cfg.Data.Dir)
	if err != nil {
		return cfg, nil, nil, nil, err
	}

	client := api.NewClient(cfg.API.BaseURL, time.Duration(cfg.API.TimeoutSeconds)*time.Second)

	policy := syncpkg.RetryPolicy{
		MaxAttempts: cfg.Sync.MaxAttempts,
		Backoff:     cfg.Sync.Backoff,
		BackoffBase: time.Duration(cfg.Sync.BackoffBaseSeconds) * time.Second,
		Exhausted:   cfg.Sync.Exhausted,
	}
	engine := syncpkg.NewEngine(st, policy, time.Duration(cfg.Sync.LeaseTTLSeconds)*time.Second)
	syncpkg.RegisterDefaultHandlers(engine, client, st)

	gateway := offline.NewGateway(client, st, sourceChecker{netmon.InterfaceSource{}})

	return cfg, st, engine, gateway, nil
}

// runDaemon starts the reachability monitor and the background scheduler
// and blocks until interrupted.
func runDaemon(c *cli.Context) error {
	cfg, st, engine, _, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	drain := func(ctx context.Context) error {
		_, err := engine.Drain(ctx)
		return err
	}

	monitor := netmon.NewMonitor(netmon.InterfaceSource{}, 5*time.Second, drain)
	monitor.OnChange(func(online bool) {
		if online {
			fmt.Println("Connection restored, syncing pending data...")
		} else {
			fmt.Println("Offline mode: changes will be saved locally")
		}
	})
	monitor.Start(ctx)
	defer monitor.Stop()

	sched := scheduler.New(engine, monitor, scheduler.Config{
		Interval: time.Duration(cfg.Sync.IntervalSeconds) * time.Second,
	})
	sched.Start(ctx)
	defer sched.Stop()

	fmt.Printf("attendsync daemon running (api=%s, interval=%ds)\n",
		cfg.API.BaseURL, cfg.Sync.IntervalSeconds)

	<-ctx.Done()
	fmt.Println("Shutting down")
	return nil
}

// runOnce performs a single drain pass and prints the report.
func runOnce(c *cli.Context) error {
	_, st, engine, _, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	report, err := engine.Drain(ctx)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrLeaseHeld) {
			fmt.Println("Another process is draining; nothing to do")
			return nil
		}
		return err
	}

	fmt.Printf("Drain %s: %d attempted, %d succeeded, %d failed, %d skipped, %d parked\n",
		report.ID, report.Attempted, report.Succeeded, report.Failed, report.Skipped, report.Parked)
	return nil
}

// showStatus prints queue depth and current reachability.
func showStatus(c *cli.Context) error {
	cfg, st, engine, _, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()

	pending, err := engine.PendingCount()
	if err != nil {
		return err
	}
	parked, err := st.ListDeadLetter()
	if err != nil {
		return err
	}

	online := netmon.InterfaceSource{}.Online()

	fmt.Printf("API:         %s\n", cfg.API.BaseURL)
	fmt.Printf("Reachable:   %v\n", online)
	fmt.Printf("Pending:     %d\n", pending)
	fmt.Printf("Dead letter: %d\n", len(parked))
	return nil
}

// markAttendance records one roll-call entry through the gateway.
func markAttendance(c *cli.Context) error {
	_, st, _, gateway, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()

	status := models.AttendanceStatus(c.String("status"))
	switch status {
	case models.StatusPresent, models.StatusLate, models.StatusAbsent:
	default:
		return fmt.Errorf("status must be present, late or absent")
	}

	date := c.String("date")
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}

	res, err := gateway.MarkAttendance(c.Context, models.AttendancePayload{
		MemberID:    c.Int64("member"),
		Date:        date,
		Status:      status,
		CheckInTime: c.String("time"),
	})
	if err != nil {
		return err
	}

	if res.Provenance == offline.ProvenancePending {
		fmt.Printf("Saved locally (op #%d); will sync when the server is reachable\n", res.OperationID)
		return nil
	}
	fmt.Printf("Marked member %d %s on %s\n", res.Record.MemberID, res.Record.Status, res.Record.Date)
	return nil
}

// showDaily prints one day's roll call, from the mirror when offline.
func showDaily(c *cli.Context) error {
	_, st, _, gateway, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()

	date := c.String("date")
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}

	recs, err := gateway.DailyAttendance(c.Context, date)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Printf("No attendance recorded for %s\n", date)
		return nil
	}

	for _, rec := range recs {
		line := fmt.Sprintf("member %-6d %s", rec.MemberID, rec.Status)
		if rec.CheckInTime != "" {
			line += " at " + rec.CheckInTime
		}
		fmt.Println(line)
	}
	return nil
}

// listMembers prints the roster, from the mirror when offline.
func listMembers(c *cli.Context) error {
	_, st, _, gateway, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()

	var members []models.Member
	if c.Bool("all") {
		members, err = gateway.ListMembers(c.Context)
	} else {
		members, err = gateway.ListActiveMembers(c.Context, c.String("search"), c.String("class"))
	}
	if err != nil {
		return err
	}
	if len(members) == 0 {
		fmt.Println("No members found")
		return nil
	}

	for _, m := range members {
		line := fmt.Sprintf("#%-6d %-30s %s", m.ID, m.Name, m.Class)
		if !m.Active {
			line += " (inactive)"
		}
		fmt.Println(line)
	}
	return nil
}

// addMember creates a member through the gateway.
func addMember(c *cli.Context) error {
	_, st, _, gateway, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := gateway.CreateMember(c.Context, models.MemberPayload{
		Name:      c.String("name"),
		Class:     c.String("class"),
		Phone:     c.String("phone"),
		Email:     c.String("email"),
		Birthdate: c.String("birthdate"),
		Active:    true,
	})
	if err != nil {
		return err
	}

	if res.Provenance == offline.ProvenancePending {
		fmt.Printf("Saved locally with tentative id %d (op #%d); the server assigns the real id at sync\n",
			res.Member.ID, res.OperationID)
		return nil
	}
	fmt.Printf("Created member #%d %s\n", res.Member.ID, res.Member.Name)
	return nil
}

// updateMember updates a member through the gateway.
func updateMember(c *cli.Context) error {
	_, st, _, gateway, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := gateway.UpdateMember(c.Context, c.Int64("id"), models.MemberPayload{
		Name:      c.String("name"),
		Class:     c.String("class"),
		Phone:     c.String("phone"),
		Email:     c.String("email"),
		Birthdate: c.String("birthdate"),
		Active:    !c.Bool("inactive"),
	})
	if err != nil {
		return err
	}

	if res.Provenance == offline.ProvenancePending {
		fmt.Printf("Saved locally (op #%d); will sync when the server is reachable\n", res.OperationID)
		return nil
	}
	fmt.Printf("Updated member #%d %s\n", res.Member.ID, res.Member.Name)
	return nil
}

// listClasses prints classes, from the mirror when offline.
func listClasses(c *cli.Context) error {
	_, st, _, gateway, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()

	classes, err := gateway.ListClasses(c.Context, !c.Bool("all"))
	if err != nil {
		return err
	}
	if len(classes) == 0 {
		fmt.Println("No classes found")
		return nil
	}

	for _, cl := range classes {
		line := fmt.Sprintf("#%-4d %-20s %s", cl.ID, cl.Name, cl.Teacher)
		if !cl.Active {
			line += " (inactive)"
		}
		fmt.Println(line)
	}
	return nil
}

// listQueue prints pending operations in replay order.
func listQueue(c *cli.Context) error {
	_, st, _, _, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()

	ops, err := st.ListPending()
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		fmt.Println("Queue is empty")
		return nil
	}

	for _, op := range ops {
		enqueued := time.Unix(op.EnqueuedAt, 0).Format(time.RFC3339)
		fmt.Printf("#%d %-13s enqueued=%s attempts=%d", op.ID, op.Type, enqueued, op.AttemptCount)
		if op.LastError != "" {
			fmt.Printf(" last_error=%q", op.LastError)
		}
		fmt.Println()
	}
	return nil
}

// listDeadLetter prints parked operations.
func listDeadLetter(c *cli.Context) error {
	_, st, _, _, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()

	ops, err := st.ListDeadLetter()
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		fmt.Println("Dead letter is empty")
		return nil
	}

	for _, op := range ops {
		fmt.Printf("#%d %-13s attempts=%d last_error=%q\n",
			op.ID, op.Type, op.AttemptCount, op.LastError)
	}
	return nil
}

// retryDeadLetter requeues all parked operations.
func retryDeadLetter(c *cli.Context) error {
	_, st, _, _, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := st.RequeueDeadLetter()
	if err != nil {
		return err
	}
	fmt.Printf("Requeued %d operations\n", n)
	return nil
}
