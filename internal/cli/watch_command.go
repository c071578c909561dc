package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"steam-sessions/internal/config"
)

// cronLogger sends cron's own messages to the cli logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debugf("cron: %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Errorf("cron: %s: %v %v", msg, err, keysAndValues)
}

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	f := bindRunFlags(fs)
	schedule := fs.String("schedule", "", "cron expression, five fields (default from config: "+config.DefaultSchedule+")")
	now := fs.Bool("now", false, "also run once right away")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := f.validate(); err != nil {
		return err
	}
	cfg, err := loadRunConfig(f)
	if err != nil {
		return err
	}
	expr := firstNonEmpty(*schedule, cfg.Schedule)
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}

	out, err := setupLogging(cfg, false)
	if err != nil {
		return err
	}
	defer out.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runs atomic.Int64
	job := func() {
		if ctx.Err() != nil {
			return
		}
		n := runs.Add(1)
		summary, err := runOnce(context.Background(), cfg, f, false)
		if err != nil {
			log.Errorf("watch run %d: %v", n, err)
			return
		}
		log.Infof("watch run %d (%s) finished in %s: %s", n, summary.RunID, summary.Duration(), formatCounts(summary.Stats))
		if f.jsonOut {
			if err := printJSON(summary); err != nil {
				log.Errorf("watch run %d: %v", n, err)
			}
		}
	}

	logger := cronLogger{}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	id, err := c.AddFunc(expr, job)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	c.Start()
	log.Infof("watch: schedule %q, next run %s", expr, c.Entry(id).Next.Format(time.RFC3339))
	if *now {
		go c.Entry(id).WrappedJob.Run()
	}

	<-ctx.Done()
	log.Infof("watch: stopping, waiting for the current run")
	<-c.Stop().Done()
	return nil
}
