package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fzxiao233/VodFetch/config"
	"github.com/fzxiao233/VodFetch/utils"
	"github.com/fzxiao233/VodFetch/vod"
	"github.com/fzxiao233/VodFetch/vod/ledger"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const defaultIdsFile = "ids.txt"

type cliOpts struct {
	configPath  string
	idsFile     string
	failedFile  string
	pendingFile string
	start       int
	end         int
}

func parseFlags(args []string) (*pflag.FlagSet, *cliOpts, error) {
	opts := &cliOpts{}
	flags := pflag.NewFlagSet("vodfetch", pflag.ContinueOnError)
	flags.StringVarP(&opts.configPath, "config", "c", "config.json", "config file")
	flags.StringVarP(&opts.idsFile, "ids", "i", "", "work list file, also used as the pending ledger")
	flags.StringVarP(&opts.failedFile, "failed", "f", "failed_ids.txt", "failed ledger file")
	flags.StringVar(&opts.pendingFile, "pending", "", "pending ledger for range or config work lists")
	flags.IntVarP(&opts.start, "start", "s", 0, "first numeric id of a range")
	flags.IntVarP(&opts.end, "end", "e", 0, "last numeric id of a range")
	flags.StringP("proxy", "p", "", "proxy for all HTTP traffic")
	flags.IntP("threads", "t", 0, "number of concurrent jobs")
	flags.StringP("output", "o", "", "download directory")
	flags.String("cookie", "", "session cookie for the player site")
	flags.String("site", "", "mgstage or nanairo")
	if err := flags.Parse(args); err != nil {
		return nil, nil, err
	}
	return flags, opts, nil
}

// workList picks the identifiers and the pending ledger path for this run.
func workList(conf *config.MainConfig, flags *pflag.FlagSet, opts *cliOpts) ([]string, string, error) {
	numeric := conf.IsNumericSite()
	idsFile := opts.idsFile
	rangeSet := flags.Changed("start") || flags.Changed("end")
	if idsFile == "" && !rangeSet && len(conf.Ids) == 0 && conf.StartId == nil && utils.IsFileExist(defaultIdsFile) {
		idsFile = defaultIdsFile
	}

	switch {
	case idsFile != "":
		ids, err := ledger.ReadWorkList(idsFile, numeric)
		if err != nil {
			return nil, "", fmt.Errorf("read work list %s: %w", idsFile, err)
		}
		return ledger.Dedupe(ids), idsFile, nil
	case rangeSet || conf.StartId != nil:
		start, end := opts.start, opts.end
		if !rangeSet {
			start = *conf.StartId
			end = start
			if conf.EndId != nil {
				end = *conf.EndId
			}
		} else if !flags.Changed("end") {
			end = start
		}
		ids, err := ledger.RangeWorkList(start, end)
		return ids, opts.pendingFile, err
	default:
		var ids []string
		for _, id := range conf.Ids {
			if numeric && !isNumeric(id) {
				continue
			}
			ids = append(ids, id)
		}
		return ledger.Dedupe(ids), opts.pendingFile, nil
	}
}

func isNumeric(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

func main() {
	flags, opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		os.Exit(1)
	}
	loader, err := config.NewLoader(opts.configPath, flags)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	conf, err := loader.Load()
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	if err = config.InitLog(conf); err != nil {
		log.Fatalf("Failed to init logging: %v", err)
	}

	ids, pendingPath, err := workList(conf, flags, opts)
	if err != nil {
		log.Fatal(err)
	}
	if len(ids) == 0 {
		log.Fatal("Work list is empty, nothing to do")
	}

	l := ledger.New(pendingPath, opts.failedFile)
	if pendingPath != "" && pendingPath != opts.idsFile && pendingPath != defaultIdsFile {
		if ids, err = l.Resume(ids); err != nil {
			log.Fatalf("Failed to read pending ledger %s: %v", pendingPath, err)
		}
		if len(ids) == 0 {
			log.Infof("Nothing left in %s, all identifiers already downloaded", pendingPath)
			return
		}
	}
	log.Infof("Total %d videos to download (site %s, %d threads)", len(ids), conf.Site, conf.DownloadThreads)

	pipeline, cleanup, err := vod.NewPipeline(conf)
	if err != nil {
		log.Fatalf("Failed to set up pipeline: %v", err)
	}
	defer cleanup()

	dispatchCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	finished := make(chan struct{})
	go func() {
		select {
		case <-dispatchCtx.Done():
			// a second signal gets the default handling and kills the process
			stop()
			log.Warn("Shutdown requested, waiting for running jobs to finish. Interrupt again to force quit")
		case <-finished:
		}
	}()

	coordinator := vod.NewCoordinator(pipeline, l, conf.DownloadThreads)
	report, err := coordinator.Run(dispatchCtx, ids)
	close(finished)
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}
	log.Infof("Download complete! Attempted: %d, Succeeded: %d, Failed: %d", report.Attempted, report.Succeeded, report.Failed)
	if report.Failed > 0 {
		log.Infof("Failed IDs saved to: %s", opts.failedFile)
	}
	if loader.Changed() {
		log.Info("Config file was modified during the run, changes apply next run")
	}
}
