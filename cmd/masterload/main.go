package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"marketcore/internal/logger"
	"marketcore/internal/model"
	"marketcore/internal/repository"
)

func main() {
	mastersDir := flag.String("masters", "data/masters", "directory with raw master files (nsecm.txt, nsefo.txt, ...)")
	outDir := flag.String("out", "data/processed", "directory for processed CSV snapshots")
	segments := flag.String("segments", "NSECM,NSEFO", "comma-separated segments to load")
	combined := flag.String("combined", "", "single combined master file with segment column (overrides -masters)")
	flag.Parse()

	slogger := logger.Init("masterload", slog.LevelInfo)
	mgr := repository.NewManager(slogger)

	var sum repository.LoadSummary
	if *combined != "" {
		f, err := os.Open(*combined)
		if err != nil {
			log.Fatalf("[masterload] open %s: %v", *combined, err)
		}
		sum = mgr.LoadCombinedMaster(f)
		f.Close()
	} else {
		for _, name := range strings.Split(*segments, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			seg, err := model.ParseSegment(name)
			if err != nil {
				log.Fatalf("[masterload] unknown segment %q", name)
			}
			path := filepath.Join(*mastersDir, strings.ToLower(seg.String())+".txt")
			f, err := os.Open(path)
			if err != nil {
				log.Fatalf("[masterload] open %s: %v", path, err)
			}
			sum.Merge(mgr.LoadMasterFile(seg, f))
			f.Close()
		}
	}

	pending := mgr.PendingIndexCount()
	resolved := mgr.ResolveIndexUnderlyings(nil)
	mgr.FinalizeAll()

	fmt.Printf("load summary: %s\n", sum.String())
	fmt.Printf("index underlyings: %d pending, %d resolved\n", pending, resolved)
	for _, seg := range model.Segments {
		repo := mgr.Segment(seg)
		if repo == nil || repo.Count() == 0 {
			continue
		}
		fmt.Printf("  %-6s %7d contracts  %5d spreads skipped\n", seg, repo.Count(), repo.SpreadCount())
	}
	for _, pe := range sum.SampleErrs {
		fmt.Printf("  parse error: %v\n", pe)
	}

	if err := mgr.SaveProcessedDir(*outDir); err != nil {
		log.Fatalf("[masterload] save processed: %v", err)
	}
	fmt.Printf("processed snapshots written to %s\n", *outDir)
}
