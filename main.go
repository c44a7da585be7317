package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	codesFlag := flag.String("codes", "", "Comma-separated schedule codes (overrides config)")
	concurrency := flag.Int("concurrency", 0, "Max concurrent workers (overrides config)")
	holdTimeout := flag.Int("hold-timeout", -1, "Minutes to hold payment windows open, 0 = until closed (overrides config)")
	headless := flag.Bool("headless", false, "Run the browser headless")
	debug := flag.Bool("debug", false, "Enable detailed debug logging")
	flag.Parse()

	config, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *codesFlag != "" {
		config.ScheduleCodes = parseCodes(*codesFlag)
	}
	if *concurrency > 0 {
		config.MaxConcurrency = *concurrency
	}
	if *holdTimeout >= 0 {
		config.HoldTimeoutMinutes = *holdTimeout
	}
	if *headless {
		config.Headless = true
	}
	if *debug {
		config.DebugMode = true
	}

	if len(config.ScheduleCodes) == 0 {
		log.Fatal("No schedule codes specified. Use -codes or set schedule_codes in config.yaml")
	}

	tracer, err := NewTracer(config.TraceDir, config.DebugMode)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer tracer.Close()

	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║             Onestop Batch Reservation Assistant           ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Run ID:   %s\n", tracer.RunID())
	fmt.Printf("Codes:    %s\n", strings.Join(config.ScheduleCodes, ", "))
	fmt.Printf("Workers:  %d\n", config.MaxConcurrency)
	if tracer.Path() != "" {
		fmt.Printf("Trace:    %s\n", tracer.Path())
	}
	fmt.Println()

	browser := NewBrowser(config, tracer.Log())
	defer browser.Close()

	if err := browser.Setup(); err != nil {
		log.Fatalf("Failed to setup browser: %v", err)
	}

	if err := browser.WaitForLogin(); err != nil {
		log.Fatalf("Failed to wait for login: %v", err)
	}

	orchestrator, err := NewOrchestrator(config, browser, tracer)
	if err != nil {
		log.Fatalf("Failed to initialize orchestrator: %v", err)
	}

	if err := orchestrator.Seed(); err != nil {
		log.Fatalf("Failed to seed session from browser: %v", err)
	}

	ctx := context.Background()
	codes := config.ScheduleCodes

	for {
		results := orchestrator.RunBatch(ctx, codes)
		printSummary(results)

		failed := failedCodes(results)
		if len(failed) == 0 {
			break
		}
		if !askRetry(len(failed)) {
			break
		}
		codes = failed
	}

	orchestrator.WaitForHeld(ctx)
	fmt.Println("Done.")
}

// askRetry prompts before re-running the failed codes. Anything but an
// explicit yes means no.
func askRetry(failed int) bool {
	fmt.Printf("Retry %d failed code(s)? [y/N] ", failed)

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	return isYes(line)
}

func isYes(answer string) bool {
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
