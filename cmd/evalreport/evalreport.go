package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"coursebot/models"
	"coursebot/services"

	"github.com/samber/lo"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: evalreport <eval-run.json> [more files or globs...]")
		os.Exit(2)
	}

	var files []string
	for _, arg := range os.Args[1:] {
		matches, err := filepath.Glob(arg)
		if err != nil || len(matches) == 0 {
			files = append(files, arg)
			continue
		}
		files = append(files, matches...)
	}

	files = lo.Uniq(files)
	sort.Strings(files)

	reporter := services.NewEvalReportService()
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("Failed to read %s: %v", path, err)
		}

		var run models.EvalRun
		if err := json.Unmarshal(data, &run); err != nil {
			log.Fatalf("Failed to parse %s: %v", path, err)
		}

		reporter.WriteSummary(os.Stdout, path, run)
	}
}
