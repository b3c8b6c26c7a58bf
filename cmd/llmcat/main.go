// Package main provides llmcat, a stream transcoding tool: it reads a
// captured provider SSE stream, normalizes it through the unified event
// converter, and re-serializes it in another provider's wire format.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/inferkit/inferkit/internal/config"
	log "github.com/inferkit/inferkit/internal/logging"
	"github.com/inferkit/inferkit/internal/translator/ir"
	"github.com/inferkit/inferkit/pkg/inferkit"
)

func main() {
	var (
		configPath       string
		fromProvider     string
		toProvider       string
		inputPath        string
		unsupportedParts string
		logLevel         string
	)

	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.StringVar(&fromProvider, "from", inferkit.ProviderAnthropic, "Source provider of the captured stream")
	flag.StringVar(&toProvider, "to", inferkit.ProviderOpenAI, "Target provider wire format")
	flag.StringVar(&inputPath, "input", "-", "Captured SSE stream file ('-' for stdin)")
	flag.StringVar(&unsupportedParts, "unsupported-parts", "", "Policy for unmappable parts: drop or text")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	_ = godotenv.Load()

	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			log.WithError(err).Fatal("load config")
		}
		cfg = loaded
	}
	if unsupportedParts != "" {
		cfg.UnsupportedParts = unsupportedParts
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log.SetLevel(log.ParseLevel(cfg.LogLevel))
	if cfg.LoggingToFile {
		if err := log.ConfigureFileOutput(cfg.LogDir); err != nil {
			log.WithError(err).Fatal("configure log file")
		}
		// Fatal exits without running defers, so the file is flushed from an
		// exit handler as well.
		log.RegisterExitHandler(log.CloseFileOutput)
		defer log.CloseFileOutput()
	}

	if err := transcode(cfg, fromProvider, toProvider, inputPath); err != nil {
		log.WithError(err).Fatal("transcode stream")
	}
}

func transcode(cfg *config.Config, from, to, inputPath string) error {
	in := os.Stdin
	if inputPath != "-" {
		f, err := os.Open(inputPath)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	converter, err := inferkit.NewConverter(from, ir.ConvertOptions{})
	if err != nil {
		return err
	}

	unsupported := ir.UnsupportedPartDrop
	if cfg.UnsupportedParts == "text" {
		unsupported = ir.UnsupportedPartAsText
	}
	serializer, err := inferkit.NewSerializer(to, ir.SerializeOptions{
		UnsupportedParts: unsupported,
	})
	if err != nil {
		return err
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	emit := func(events []ir.UnifiedEvent) error {
		for _, event := range events {
			frame, err := serializer.Serialize(event)
			if err != nil {
				return fmt.Errorf("serialize %s event: %w", event.Type, err)
			}
			if len(frame) > 0 {
				if _, err := out.Write(frame); err != nil {
					return err
				}
			}
		}
		return nil
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 20*1024*1024)
	for scanner.Scan() {
		events, err := converter.Convert(scanner.Bytes())
		if err != nil {
			return fmt.Errorf("convert stream event: %w", err)
		}
		if err := emit(events); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	return emit(converter.Finalize())
}
