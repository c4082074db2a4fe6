package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/ragline/pkg/rag"
)

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("chunks"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func printReport(report rag.IngestReport) {
	fmt.Println()
	color.Cyan("Ingest report")
	fmt.Printf("  run:        %s\n", report.RunID)
	fmt.Printf("  source:     %s\n", report.Source)
	fmt.Printf("  collection: %s\n", report.Collection)
	if report.Alias != "" {
		fmt.Printf("  alias:      %s\n", report.Alias)
	}
	fmt.Printf("  chunks:     %d\n", report.Chunks)
	fmt.Printf("  stored:     %s\n", color.GreenString("%d", report.Stored))
	if report.Failed > 0 {
		fmt.Printf("  failed:     %s\n", color.RedString("%d", report.Failed))
	}
	if report.Duration > 0 {
		fmt.Printf("  duration:   %s\n", report.Duration.Round(time.Millisecond))
	}
}

func printContext(answer rag.Answer) {
	color.Cyan("\nRetrieved context (%d chunks)", len(answer.Results))
	if len(answer.Results) == 0 {
		color.Yellow("  no matching chunks")
		return
	}
	fmt.Println(answer.Context)

	fmt.Println()
	for i, r := range answer.Results {
		fmt.Printf("  %s\n", color.BlueString("[%d] %s d=%.4f", i+1, r.ID, r.Distance))
	}
}

func printInspection(in rag.Inspection) {
	color.Cyan("\nCollections in store: %d", len(in.Collections))
	for _, c := range in.Collections {
		fmt.Printf("  - %s (%d records)\n", c.Name, c.Count)
	}

	info := in.Collection
	color.Cyan("\nCollection %s", info.Name)
	fmt.Printf("  metric:    %s\n", info.Metric)
	fmt.Printf("  dimension: %d\n", info.Dimension)
	fmt.Printf("  model:     %s\n", info.EmbeddingModel)
	fmt.Printf("  created:   %s\n", info.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  records:   %d\n", info.Count)

	color.Cyan("\nRecords")
	for _, r := range in.Records {
		fmt.Printf("  %s (len=%d, dim=%d) %v\n",
			color.BlueString(r.ID), r.Metadata.Length, r.Dimension, r.Head)
		fmt.Printf("    %s\n", truncate(r.Document, 100))
	}

	color.Cyan("\nSmoke queries")
	for _, q := range in.Queries {
		fmt.Printf("  %s\n", color.GreenString("%q", q.Query))
		if len(q.Results) == 0 {
			color.Yellow("    no results")
		}
		for _, r := range q.Results {
			fmt.Printf("    %s d=%.4f %s\n", r.ID, r.Distance, truncate(r.Document, 80))
		}
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
