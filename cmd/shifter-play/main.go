package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/vsariola/shifter"
	"github.com/vsariola/shifter/oto"
	"github.com/vsariola/shifter/tension"
	"github.com/vsariola/shifter/tracker"
	"github.com/vsariola/shifter/version"
	"go.uber.org/zap"
)

func main() {
	help := flag.Bool("h", false, "Show help.")
	configPath := flag.String("c", "", "Configuration file (.yml or .json). By default, the built-in defaults with -rate and -hop are used.")
	rate := flag.Int("rate", 44100, "Sample rate when no configuration file is given.")
	hop := flag.Int("hop", 512, "Hop size in samples when no configuration file is given.")
	wavOut := flag.String("w", "", "Write the mix to this .wav file instead of playing it.")
	offset := flag.Int("offset", 0, "Start playing from this frame.")
	gain := flag.Float64("gain", 1, "Volume of every track.")
	verbose := flag.Bool("verbose", false, "Log at debug level.")
	versionFlag := flag.Bool("v", false, "Print version.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.Banner("shifter-play"))
		os.Exit(0)
	}
	if flag.NArg() == 0 || *help {
		flag.Usage()
		os.Exit(0)
	}
	logger, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	if err := run(logger, *configPath, *rate, *hop, *wavOut, *offset, float32(*gain), flag.Args()); err != nil {
		logger.Error("shifter-play failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, configPath string, rate, hop int, wavOut string, offset int, gain float32, paths []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	cfg, err := loadConfig(configPath, rate, hop)
	if err != nil {
		return err
	}
	var audioContext shifter.AudioContext
	if wavOut == "" {
		c, err := oto.NewContext(cfg.Vocoder.SampleRate, time.Duration(cfg.Playback.BufferMillis)*time.Millisecond)
		if err != nil {
			return fmt.Errorf("could not acquire oto AudioContext: %w", err)
		}
		defer c.Close()
		audioContext = c
	}
	fx := tension.New(cfg.Tension, tension.WithLogger(logger))
	model, err := tracker.NewModel(*cfg, nil, nil, fx, audioContext, tracker.WithLogger(logger))
	if err != nil {
		return err
	}
	defer model.Close()
	for _, path := range paths {
		if _, err := model.LoadTrack(ctx, path, tracker.Background); err != nil {
			return fmt.Errorf("could not load %v: %w", path, err)
		}
	}
	for i := range model.Tracks() {
		if err := model.SetVolume(i, gain); err != nil {
			return fmt.Errorf("could not set the volume of track %d: %w", i, err)
		}
	}
	if wavOut != "" {
		f, err := os.Create(wavOut)
		if err != nil {
			return fmt.Errorf("could not create %v: %w", wavOut, err)
		}
		defer f.Close()
		if err := model.ExportMix(ctx, f); err != nil {
			return fmt.Errorf("could not write %v: %w", wavOut, err)
		}
		logger.Info("mix written", zap.String("path", wavOut))
		return nil
	}
	if _, err := model.Play(ctx, offset).Wait(ctx); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		model.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		model.Stop(true)
	}
	model.ProcessMessages()
	for _, a := range model.Alerts().Iterate {
		if a.Priority >= tracker.Warning {
			logger.Warn(a.Message, zap.Stringer("priority", a.Priority))
		}
	}
	return nil
}

func loadConfig(path string, rate, hop int) (*shifter.Config, error) {
	if path != "" {
		return shifter.LoadConfigFile(path)
	}
	cfg := shifter.DefaultConfig()
	cfg.Vocoder.SampleRate = rate
	cfg.Vocoder.HopSize = hop
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Shifter command line utility for mixing and playing .wav files.\nUsage: %s [flags] [path ...]\n", os.Args[0])
	flag.PrintDefaults()
}
