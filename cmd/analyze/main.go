package main

import (
	"flag"
	"fmt"
	"os"

	"latencyflow/internal/analysis"
	"latencyflow/logger"
)

func main() {
	log := logger.GetLogger()

	bucketWidth := flag.Int64("bucket", 1000, "Bucket width in milliseconds")
	plotDir := flag.String("plots", "Plots", "Directory for chart output")
	noChart := flag.Bool("no-chart", false, "Skip chart rendering")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: analyze [flags] <capture-log> [more logs...]")
		os.Exit(2)
	}

	exit := 0
	for _, path := range flag.Args() {
		if err := analyzeOne(path, *bucketWidth, *plotDir, *noChart); err != nil {
			log.WithError(err).WithFields(logger.Fields{"path": path}).Error("analysis failed")
			exit = 1
		}
	}
	os.Exit(exit)
}

func analyzeOne(path string, bucketWidth int64, plotDir string, noChart bool) error {
	capLog, err := analysis.ParseFile(path)
	if err != nil {
		return err
	}

	res, err := analysis.Analyze(capLog, bucketWidth)
	if err != nil {
		return err
	}

	os.Stdout.WriteString(analysis.RenderReport(res))

	if noChart {
		return nil
	}
	chartPath, err := analysis.RenderChart(capLog, res, plotDir)
	if err != nil {
		return err
	}
	fmt.Printf("chart: %s\n", chartPath)
	return nil
}
