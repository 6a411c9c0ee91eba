// Copyright ©2026 The bamcowig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// bamcowig computes binned read coverage from an indexed BAM or CRAM
// file and writes it as a bigWig or bedGraph track.
//
// Chromosomes are binned in parallel, each reading the alignment file
// through its own handle. Coverage may be normalized by library size
// before it is written. No output is written if any step fails.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/akamensky/argparse"
	"github.com/sirupsen/logrus"

	"github.com/ramin-shirali/bamcowig/coverage"
	"github.com/ramin-shirali/bamcowig/filter"
	"github.com/ramin-shirali/bamcowig/normalize"
	"github.com/ramin-shirali/bamcowig/source"
	"github.com/ramin-shirali/bamcowig/track"
)

func main() {
	os.Exit(run(os.Args, os.Stderr))
}

// config is a parsed command line.
type config struct {
	source   source.Options
	output   string
	format   track.Format
	coverage coverage.Options
	norm     normalize.Params
	verbose  bool
}

var errUsage = errors.New("usage")

func parse(args []string, stderr io.Writer) (*config, error) {
	parser := argparse.NewParser("bamcowig", "Compute binned coverage of an indexed BAM or CRAM file as a bigWig or bedGraph track.")
	aln := parser.String("b", "bam", &argparse.Options{Required: true, Help: "Input BAM or CRAM file"})
	idx := parser.String("i", "index", &argparse.Options{Required: true, Help: "Index of the input file (BAI, CSI or CRAI)"})
	binSize := parser.Int("", "bin-size", &argparse.Options{Help: "Bin size in base pairs", Default: 50})
	out := parser.String("o", "output", &argparse.Options{Help: "Output track; .bw or .bigwig for bigWig, .bedgraph, .bed or .bg for bedGraph", Default: "coverage_over_bins.bw"})
	threads := parser.Int("t", "threads", &argparse.Options{Help: "Number of chromosomes binned concurrently", Default: coverage.DefaultThreads})
	extend := parser.Flag("", "extend-to-fragment", &argparse.Options{Help: "Extend reads to their fragments using the template length"})
	method := parser.Selector("", "normalize", []string{"none", "cpm", "rpkm", "rpgc", "bpm"}, &argparse.Options{Help: "Normalization method", Default: "none"})
	fraction := parser.Flag("f", "fraction-counts", &argparse.Options{Help: "Count the covered fraction of partially covered bins"})
	egs := parser.Int("", "effective-genome-size", &argparse.Options{Help: "Effective genome size used by rpgc"})
	readLen := parser.Int("", "read-length", &argparse.Options{Help: "Read length used by rpgc"})
	paired := parser.Flag("", "paired", &argparse.Options{Help: "Treat the input as paired-end"})
	single := parser.Flag("", "single", &argparse.Options{Help: "Treat the input as single-end"})
	ref := parser.String("", "reference", &argparse.Options{Help: "FASTA reference for CRAM input, with a .fai index alongside"})
	samtools := parser.String("", "samtools", &argparse.Options{Help: "samtools executable used to decode CRAM records", Default: source.DefaultSamtools})
	filterConfig := parser.String("", "filter-config", &argparse.Options{Help: "YAML read filter configuration"})
	verbose := parser.Flag("", "verbose", &argparse.Options{Help: "Log progress"})

	err := parser.Parse(args)
	if err != nil {
		fmt.Fprint(stderr, parser.Usage(err))
		return nil, errUsage
	}

	cfg := &config{
		source: source.Options{
			Alignment: *aln,
			Index:     *idx,
			Reference: *ref,
			Samtools:  *samtools,
		},
		output:  *out,
		verbose: *verbose,
	}
	switch {
	case *paired && *single:
		return nil, errors.New("--paired and --single are mutually exclusive")
	case *paired:
		cfg.source.Paired = paired
	case *single:
		p := false
		cfg.source.Paired = &p
	}
	if *binSize <= 0 {
		return nil, fmt.Errorf("invalid bin size: %d", *binSize)
	}
	if *threads <= 0 {
		return nil, fmt.Errorf("invalid thread count: %d", *threads)
	}
	cfg.format, err = track.FormatOf(*out)
	if err != nil {
		return nil, err
	}

	fc := filter.Default()
	if *filterConfig != "" {
		fc, err = filter.Load(*filterConfig)
		if err != nil {
			return nil, err
		}
	}
	cfg.coverage = coverage.Options{
		Source:           cfg.source,
		BinSize:          *binSize,
		Threads:          *threads,
		Filter:           fc,
		ExtendToFragment: *extend,
		Fractional:       *fraction,
	}

	m, err := normalize.ParseMethod(*method)
	if err != nil {
		return nil, err
	}
	if m == normalize.RPGC && (*egs <= 0 || *readLen <= 0) {
		return nil, errors.New("rpgc normalization requires --effective-genome-size and --read-length")
	}
	cfg.norm = normalize.Params{
		Method:              m,
		BinSize:             *binSize,
		EffectiveGenomeSize: *egs,
		ReadLength:          *readLen,
	}
	return cfg, nil
}

func run(args []string, stderr io.Writer) int {
	log := logrus.New()
	log.Out = stderr
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := parse(args, stderr)
	if err != nil {
		if err != errUsage {
			log.Error(err)
		}
		return 1
	}
	if cfg.verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	err = compute(cfg, log)
	if err != nil {
		log.Error(err)
		return 1
	}
	return 0
}

func compute(cfg *config, log *logrus.Logger) error {
	start := time.Now()
	src, err := source.Open(cfg.source)
	if err != nil {
		return err
	}
	defer src.Close()
	log.WithFields(logrus.Fields{
		"file":        cfg.source.Alignment,
		"format":      src.Kind(),
		"chromosomes": len(src.Refs()),
		"reads":       src.TotalReads(),
		"paired":      src.Paired(),
	}).Info("opened alignments")

	opts := cfg.coverage
	opts.Log = log
	m, err := coverage.Run(src, opts)
	if err != nil {
		return err
	}

	p := cfg.norm
	p.TotalReads = src.TotalReads()
	rows, err := normalize.Apply(m.Rows, p)
	if err != nil {
		return err
	}

	err = track.WriteFile(cfg.output, cfg.format, m, rows, log)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"output":    cfg.output,
		"format":    cfg.format,
		"normalize": p.Method,
		"elapsed":   time.Since(start),
	}).Info("wrote coverage")
	return nil
}
