package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/MrWong99/sphinxlink/internal/app"
	"github.com/MrWong99/sphinxlink/internal/config"
	"github.com/MrWong99/sphinxlink/internal/observe"
	"github.com/MrWong99/sphinxlink/pkg/audio"
)

type recognizeOptions struct {
	grammar     string
	concurrency int
	rawRate     int
	rawChannels int
	jsonOutput  bool
}

// recognition is one line of --json output.
type recognition struct {
	Path  string `json:"path"`
	Score int32  `json:"score"`
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func recognizeCmd(g *globalOptions) *cobra.Command {
	o := &recognizeOptions{}
	cmd := &cobra.Command{
		Use:   "recognize [files...]",
		Short: "Recognise audio files, or raw PCM from stdin",
		Long: `Recognise each file with its own session and print the best result.

WAV files are decoded and converted to the recognizer's format. Files
ending in .raw or .pcm, and stdin (no arguments or "-"), are read as
signed 16-bit little-endian PCM in the --raw-rate/--raw-channels format.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.setup()
			if err != nil {
				return err
			}
			return runRecognize(cmd, cfg, o, args)
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&o.grammar, "grammar", "g", "", "grammar to activate (default: recognizer.grammar)")
	fs.IntVarP(&o.concurrency, "concurrency", "j", 4, "number of files recognised at once")
	fs.IntVar(&o.rawRate, "raw-rate", 0, "sample rate of raw input (default: detector.sample_rate)")
	fs.IntVar(&o.rawChannels, "raw-channels", 1, "channel count of raw input")
	fs.BoolVar(&o.jsonOutput, "json", false, "print one JSON object per file")
	return cmd
}

func runRecognize(cmd *cobra.Command, cfg *config.Config, o *recognizeOptions, args []string) error {
	ctx := cmd.Context()
	metrics := observe.DefaultMetrics()
	provider, err := newRegistry(metrics).CreateSTT(cfg)
	if err != nil {
		return err
	}

	target := audio.Format{SampleRate: cfg.Detector.SampleRate, Channels: 1}
	raw := audio.Format{SampleRate: o.rawRate, Channels: o.rawChannels}
	if raw.SampleRate == 0 {
		raw.SampleRate = target.SampleRate
	}
	rec := app.NewRecognizer(provider,
		app.WithFormat(target),
		app.WithFrameDuration(cfg.FrameDuration()),
		app.WithDefaultGrammar(cfg.Recognizer.Grammar),
		app.WithMetrics(metrics),
	)

	var results []app.FileResult
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		res := app.FileResult{Path: "-"}
		src, err := stdinSource(cmd.InOrStdin(), raw, target)
		if err != nil {
			return err
		}
		res.Transcript, res.Err = rec.Recognize(ctx, src, o.grammar)
		results = append(results, res)
	} else {
		results, err = rec.RecognizeFiles(ctx, args, o.grammar, raw, o.concurrency)
		if err != nil {
			return err
		}
	}

	failed := 0
	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	for _, res := range results {
		line := recognition{Path: res.Path, Score: res.Transcript.Score, Text: res.Transcript.Text}
		if res.Err != nil {
			failed++
			line.Error = res.Err.Error()
		}
		if o.jsonOutput {
			if err := enc.Encode(line); err != nil {
				return err
			}
			continue
		}
		if line.Error != "" {
			fmt.Fprintf(out, "%s: error: %s\n", line.Path, line.Error)
		} else {
			fmt.Fprintf(out, "%s: %s (score %d)\n", line.Path, line.Text, line.Score)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d inputs failed", failed, len(results))
	}
	return nil
}

// stdinSource converts raw PCM from r to target when the formats differ.
func stdinSource(r io.Reader, raw, target audio.Format) (io.Reader, error) {
	if err := raw.Validate(); err != nil {
		return nil, err
	}
	if raw == target {
		return r, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	data = data[:len(data)-len(data)%raw.BlockAlign()]
	conv := audio.Converter{Target: target}
	return bytes.NewReader(conv.Convert(audio.Frame{Data: data, Format: raw}).Data), nil
}
