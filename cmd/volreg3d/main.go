package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"volreg3d/pkg/config"
	"volreg3d/pkg/optimizer"
	"volreg3d/pkg/registration"
	"volreg3d/pkg/visualization"
	"volreg3d/pkg/volio"
)

func main() {
	// Parse command line arguments
	fixedPath := flag.String("fixed", "", "Fixed volume header (.yaml)")
	movingPath := flag.String("moving", "", "Moving volume header (.yaml)")
	fixedMaskPath := flag.String("fixed-mask", "", "Optional fixed-volume mask header")
	movingMaskPath := flag.String("moving-mask", "", "Optional moving-volume mask header")
	configPath := flag.String("config", "volreg3d.yaml", "Configuration file (defaults apply if absent)")
	outputDir := flag.String("output", "", "Output directory (overrides config)")
	extractChecker := flag.Bool("extract-checker", false, "Save checkerboard QA slices of the result")
	checkerDir := flag.String("checker-dir", "checkerboard", "Directory for checkerboard slices")
	flag.Parse()

	// Validate inputs
	if *fixedPath == "" || *movingPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *outputDir != "" {
		cfg.Output.Directory = *outputDir
	}

	fixed, err := volio.LoadVolume(*fixedPath)
	if err != nil {
		log.Fatalf("Failed to load fixed volume: %v", err)
	}
	moving, err := volio.LoadVolume(*movingPath)
	if err != nil {
		log.Fatalf("Failed to load moving volume: %v", err)
	}

	opts := registration.OptionsFromConfig(cfg)
	opts.IO = volio.Adapter{}
	if *fixedMaskPath != "" {
		if opts.FixedMask, err = volio.LoadMask(*fixedMaskPath); err != nil {
			log.Fatalf("Failed to load fixed mask: %v", err)
		}
	}
	if *movingMaskPath != "" {
		if opts.MovingMask, err = volio.LoadMask(*movingMaskPath); err != nil {
			log.Fatalf("Failed to load moving mask: %v", err)
		}
	}
	if cfg.Output.Verbose {
		// Cumulative iteration index across pyramid levels.
		var iterTotal int
		opts.Progress = func(level int, it optimizer.Iteration) {
			iterTotal++
			fmt.Printf("  %4d  level %d  %.6f  %v\n", iterTotal, level+1, it.Value, it.Params)
		}
	}

	fmt.Println("================================")
	fmt.Println("3D VOLUME REGISTRATION")
	fmt.Println("In-plane similarity transform, multi-resolution gradient search")
	fmt.Println("================================")

	startTime := time.Now()
	result, err := registration.Register(fixed, moving, opts)
	if err != nil {
		log.Fatalf("Registration failed: %v", err)
	}
	elapsed := time.Since(startTime)

	fmt.Printf("\nRegistration completed in %.2f seconds\n", elapsed.Seconds())
	fmt.Printf("Levels: %d, cumulative iterations: %d\n", result.Levels, result.Iterations)
	fmt.Printf("Stop condition: %s\n", result.Stop)
	fmt.Printf("Final metric value: %.6f\n", result.FinalValue)

	rot := result.Transform.Rotation()
	tr := result.Transform.Translation()
	fmt.Printf("Rotation (rad): [%.5f, %.5f, %.5f]\n", rot[0], rot[1], rot[2])
	fmt.Printf("Translation (mm): [%.3f, %.3f, %.3f]\n", tr[0], tr[1], tr[2])
	fmt.Printf("In-plane scale: %.5f\n", result.Transform.Scale())

	// Persist the final transform and warped volume
	tfmPath := filepath.Join(cfg.Output.Directory, "transform.yaml")
	if err := volio.SaveTransform(tfmPath, result.Transform); err != nil {
		log.Fatalf("Failed to save transform: %v", err)
	}
	warpedPath := filepath.Join(cfg.Output.Directory, "warped.yaml")
	if err := volio.SaveVolume(warpedPath, result.Warped); err != nil {
		log.Fatalf("Failed to save warped volume: %v", err)
	}
	fmt.Printf("\nTransform saved to: %s\n", tfmPath)
	fmt.Printf("Warped volume saved to: %s\n", warpedPath)

	// Extract checkerboard QA slices if requested
	if *extractChecker {
		fmt.Println("\nExtracting checkerboard slices...")
		viewer, err := visualization.NewViewer(fixed, result.Warped)
		if err != nil {
			log.Fatalf("Failed to create viewer: %v", err)
		}
		checkerPath := filepath.Join(cfg.Output.Directory, *checkerDir)
		if err := viewer.SaveCheckerboardSequence(checkerPath); err != nil {
			log.Printf("Warning: Failed to save checkerboard slices: %v", err)
		} else {
			fmt.Printf("Checkerboard slices saved to: %s\n", checkerPath)
		}
	}
}
